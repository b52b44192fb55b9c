// Package oauth signs browser users in against an upstream OAuth2 provider
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

const defaultTimeout = 10 * time.Second

// Common errors returned by providers
var (
	ErrInvalidGrant        = errors.New("invalid grant")
	ErrProviderUnavailable = errors.New("oauth provider unavailable")
	ErrNoUserID            = errors.New("userinfo response has no user id")
)

// User is the identity reported by the provider's userinfo endpoint
type User struct {
	ID    string
	Name  string
	Email string
}

// Endpoints locates the provider
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HealthURL is fetched by CheckHealth. Empty skips the check.
	HealthURL string
}

// Config holds upstream provider configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Endpoints    Endpoints
}

// Provider runs the authorization code flow with PKCE against the upstream
type Provider struct {
	config      oauth2.Config
	userInfoURL string
	healthURL   string
	client      *http.Client
}

// NewProvider creates a new upstream provider
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("redirect URI is required")
	}
	if cfg.Endpoints.AuthURL == "" || cfg.Endpoints.TokenURL == "" || cfg.Endpoints.UserInfoURL == "" {
		return nil, fmt.Errorf("auth, token and userinfo URLs are required")
	}

	return &Provider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Endpoints.AuthURL,
				TokenURL: cfg.Endpoints.TokenURL,
			},
		},
		userInfoURL: cfg.Endpoints.UserInfoURL,
		healthURL:   cfg.Endpoints.HealthURL,
		client:      &http.Client{Timeout: defaultTimeout},
	}, nil
}

// AuthCodeURL returns the upstream login URL for a pending login
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange redeems the callback code and looks up the signed-in user
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*User, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	return p.userInfo(ctx, token)
}

func (p *Provider) userInfo(ctx context.Context, token *oauth2.Token) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo request failed: %s: %s", resp.Status, body)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing userinfo response: %w", err)
	}
	return info.user()
}

// userInfo accepts both OIDC userinfo and GitHub /user payloads
type userInfo struct {
	Subject           string      `json:"sub"`
	ID                json.Number `json:"id"`
	Login             string      `json:"login"`
	PreferredUsername string      `json:"preferred_username"`
	Name              string      `json:"name"`
	Email             string      `json:"email"`
}

func (u userInfo) user() (*User, error) {
	id := u.Subject
	if id == "" && u.ID != "" {
		if _, err := strconv.ParseInt(string(u.ID), 10, 64); err != nil {
			return nil, fmt.Errorf("parsing user id %q: %w", u.ID, err)
		}
		id = string(u.ID)
	}
	if id == "" {
		return nil, ErrNoUserID
	}

	name := u.Name
	if name == "" {
		name = u.PreferredUsername
	}
	if name == "" {
		name = u.Login
	}
	return &User{ID: id, Name: name, Email: u.Email}, nil
}

// CheckHealth verifies the provider is accessible
func (p *Provider) CheckHealth(ctx context.Context) error {
	if p.healthURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrProviderUnavailable
	}
	return nil
}
