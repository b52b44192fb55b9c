// Package csrf protects the browser approval forms against cross-site request forgery
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidToken indicates a missing, forged, expired or already used CSRF token
var ErrInvalidToken = errors.New("invalid csrf token")

// DefaultExpiry is how long a rendered form stays submittable
const DefaultExpiry = 15 * time.Minute

// Store keeps issued tokens until they are used or expire
type Store interface {
	// SaveToken stores a CSRF token with expiry
	SaveToken(ctx context.Context, token string, expiresIn time.Duration) error

	// ConsumeToken removes a token, failing with ErrInvalidToken if it was
	// never issued, already used or has expired
	ConsumeToken(ctx context.Context, token string) error

	// CheckHealth verifies the store is operational
	CheckHealth(ctx context.Context) error
}

// Manager issues single-use tokens bound to a browser session
type Manager struct {
	store     Store
	secret    []byte
	expiresIn time.Duration
}

// NewManager creates a new CSRF token manager
func NewManager(store Store, secret []byte, expiresIn time.Duration) *Manager {
	if expiresIn <= 0 {
		expiresIn = DefaultExpiry
	}
	return &Manager{
		store:     store,
		secret:    secret,
		expiresIn: expiresIn,
	}
}

// GenerateToken creates and stores a token for the given session
func (m *Manager) GenerateToken(ctx context.Context, sessionID string) (string, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(nonceBytes)

	token := nonce + "." + base64.RawURLEncoding.EncodeToString(m.sign(nonce, sessionID))

	if err := m.store.SaveToken(ctx, token, m.expiresIn); err != nil {
		return "", fmt.Errorf("saving token: %w", err)
	}

	return token, nil
}

// ValidateToken checks the token was issued to sessionID and consumes it
func (m *Manager) ValidateToken(ctx context.Context, token, sessionID string) error {
	nonce, encodedSig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" {
		return ErrInvalidToken
	}

	sig, err := base64.RawURLEncoding.DecodeString(encodedSig)
	if err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal(m.sign(nonce, sessionID), sig) {
		return ErrInvalidToken
	}

	if err := m.store.ConsumeToken(ctx, token); err != nil {
		return fmt.Errorf("validating token: %w", err)
	}

	return nil
}

// CheckHealth verifies the CSRF manager is operational
func (m *Manager) CheckHealth(ctx context.Context) error {
	if err := m.store.CheckHealth(ctx); err != nil {
		return fmt.Errorf("csrf store health check failed: %w", err)
	}
	return nil
}

func (m *Manager) sign(nonce, sessionID string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(nonce))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	return h.Sum(nil)
}
