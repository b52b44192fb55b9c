// Package verify serves the browser side of the flow per RFC 8628 section 3.3:
// sign-in, code entry and the approve or deny decision.
package verify

import (
	"context"
	"strings"
	"time"

	"github.com/wrale/phantom/internal/csrf"
	"github.com/wrale/phantom/internal/deviceflow"
	"github.com/wrale/phantom/internal/oauth"
	"github.com/wrale/phantom/internal/session"
	"github.com/wrale/phantom/internal/templates"
)

// timeNow is replaced in tests
var timeNow = time.Now

// Flow is the part of the device flow the browser drives
type Flow interface {
	Lookup(ctx context.Context, userCode string) (*deviceflow.DeviceAuthorization, error)
	Approve(ctx context.Context, userCode, userID string) (*deviceflow.DeviceAuthorization, error)
	Deny(ctx context.Context, userCode, userID string) (*deviceflow.DeviceAuthorization, error)
}

// LoginProvider signs users in upstream
type LoginProvider interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth.User, error)
}

// Handler processes user verification flow per RFC 8628 section 3.3
type Handler struct {
	flow      Flow
	templates *templates.Templates
	csrf      *csrf.Manager
	sessions  *session.Manager
	login     LoginProvider
	baseURL   string
}

// Config contains handler configuration
type Config struct {
	Flow      Flow
	Templates *templates.Templates
	CSRF      *csrf.Manager
	Sessions  *session.Manager
	Login     LoginProvider
	BaseURL   string
}

// New creates a new verification flow handler
func New(cfg Config) *Handler {
	return &Handler{
		flow:      cfg.Flow,
		templates: cfg.Templates,
		csrf:      cfg.CSRF,
		sessions:  cfg.Sessions,
		login:     cfg.Login,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

func (h *Handler) verificationURI() string {
	return h.baseURL + "/device"
}
