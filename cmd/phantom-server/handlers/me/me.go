// Package me reports the identity behind a bearer access token
package me

import (
	"net/http"
	"strings"
	"time"

	"github.com/wrale/phantom/cmd/phantom-server/handlers/common"
	"github.com/wrale/phantom/internal/accesstoken"
)

// Verifier checks access tokens
type Verifier interface {
	Verify(token string) (*accesstoken.Claims, error)
}

// Handler serves GET /api/me
type Handler struct {
	tokens Verifier
}

// Response describes the caller
type Response struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New creates the handler
func New(tokens Verifier) *Handler {
	return &Handler{tokens: tokens}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="phantom"`)
		common.WriteError(w, http.StatusUnauthorized, "invalid_request", "Bearer token required")
		return
	}

	claims, err := h.tokens.Verify(raw)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="phantom", error="invalid_token"`)
		common.WriteError(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired")
		return
	}

	resp := Response{
		UserID:   claims.Subject,
		ClientID: claims.ClientID,
		Scope:    claims.Scope,
	}
	if claims.IssuedAt != nil {
		resp.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	common.WriteJSON(w, http.StatusOK, resp)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
