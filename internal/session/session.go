// Package session keeps the browser sessions used to approve devices
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	// DefaultCookieName names the session cookie
	DefaultCookieName = "phantom_session"

	// DefaultLifetime bounds a signed-in browser session
	DefaultLifetime = 12 * time.Hour

	// loginLifetime bounds the round trip to the upstream identity provider
	loginLifetime = 10 * time.Minute
)

var (
	// ErrNoSession means the request carries no usable signed-in session
	ErrNoSession = errors.New("no session")

	// ErrStateMismatch means a login callback does not belong to this browser
	ErrStateMismatch = errors.New("login state mismatch")

	// ErrNotFound is returned by stores for unknown or expired ids
	ErrNotFound = errors.New("session not found")
)

// User is the identity established by the upstream login
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DisplayName is what pages show for the signed-in user
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	default:
		return u.ID
	}
}

// Session is either a pending login (LoginState set, no user) or a signed-in
// browser (User set). A session never moves from one to the other; login
// completion replaces the pending session with a fresh id.
type Session struct {
	ID         string    `json:"id"`
	User       User      `json:"user"`
	LoginState string    `json:"login_state,omitempty"`
	Verifier   string    `json:"verifier,omitempty"`
	ReturnTo   string    `json:"return_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Authenticated reports whether the session belongs to a signed-in user
func (s *Session) Authenticated() bool {
	return s.User.ID != ""
}

// Store persists sessions until they expire
type Store interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	CheckHealth(ctx context.Context) error
}

// Manager binds sessions to browser cookies
type Manager struct {
	store      Store
	cookieName string
	lifetime   time.Duration
	secure     bool
	now        func() time.Time
}

// NewManager creates a session manager. Cookies are marked Secure when secure is set.
func NewManager(store Store, lifetime time.Duration, secure bool) *Manager {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Manager{
		store:      store,
		cookieName: DefaultCookieName,
		lifetime:   lifetime,
		secure:     secure,
		now:        time.Now,
	}
}

// BeginLogin starts an upstream login round trip and remembers where to go afterwards
func (m *Manager) BeginLogin(ctx context.Context, w http.ResponseWriter, returnTo string) (*Session, error) {
	now := m.now()
	s := &Session{
		ID:         uuid.NewString(),
		LoginState: uuid.NewString(),
		Verifier:   oauth2.GenerateVerifier(),
		ReturnTo:   returnTo,
		CreatedAt:  now,
		ExpiresAt:  now.Add(loginLifetime),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saving login session: %w", err)
	}
	m.setCookie(w, s)
	return s, nil
}

// PendingLogin returns the pending login of this browser if state matches it
func (m *Manager) PendingLogin(ctx context.Context, r *http.Request, state string) (*Session, error) {
	s, err := m.load(ctx, r)
	if err != nil {
		return nil, err
	}
	if s.LoginState == "" || subtle.ConstantTimeCompare([]byte(s.LoginState), []byte(state)) != 1 {
		return nil, ErrStateMismatch
	}
	return s, nil
}

// CompleteLogin replaces a pending login with a signed-in session for user
func (m *Manager) CompleteLogin(ctx context.Context, w http.ResponseWriter, pending *Session, user User) (*Session, error) {
	if user.ID == "" {
		return nil, errors.New("user has no id")
	}
	if err := m.store.Delete(ctx, pending.ID); err != nil {
		return nil, fmt.Errorf("deleting login session: %w", err)
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(m.lifetime),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	m.setCookie(w, s)
	return s, nil
}

// Current returns the signed-in session of the request
func (m *Manager) Current(ctx context.Context, r *http.Request) (*Session, error) {
	s, err := m.load(ctx, r)
	if err != nil {
		return nil, err
	}
	if !s.Authenticated() {
		return nil, ErrNoSession
	}
	return s, nil
}

// End signs the browser out
func (m *Manager) End(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		if err := m.store.Delete(ctx, c.Value); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// CheckHealth verifies the session store is operational
func (m *Manager) CheckHealth(ctx context.Context) error {
	if err := m.store.CheckHealth(ctx); err != nil {
		return fmt.Errorf("session store health check failed: %w", err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	s, err := m.store.Load(ctx, c.Value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if !m.now().Before(s.ExpiresAt) {
		return nil, ErrNoSession
	}
	return s, nil
}

func (m *Manager) setCookie(w http.ResponseWriter, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
