// Package deviceflow implements OAuth 2.0 Device Authorization Grant per RFC 8628
package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrale/phantom/internal/validation"
)

const (
	// DefaultExpiryDuration is the default lifetime of device and user codes
	DefaultExpiryDuration = 30 * time.Minute

	// DefaultPollInterval is the default minimum interval between polling requests
	DefaultPollInterval = 5 * time.Second

	// DefaultRetainExpired is how long expired records stay readable
	DefaultRetainExpired = 10 * time.Minute

	// maxCodeAttempts bounds retries on code collisions
	maxCodeAttempts = 10
)

// TokenIssuer mints access tokens for approved requests
type TokenIssuer interface {
	IssueToken(ctx context.Context, auth *DeviceAuthorization) (*TokenResponse, error)
}

// Flow manages the device authorization grant flow per RFC 8628.
// It owns every status transition; stores only persist them.
type Flow struct {
	store          Store
	issuer         TokenIssuer
	logger         zerolog.Logger
	baseURL        string
	expiryDuration time.Duration
	pollInterval   time.Duration
	retainExpired  time.Duration
	allowedClients map[string]struct{}
	now            func() time.Time
}

// NewFlow creates a new device flow manager with provided options
func NewFlow(store Store, issuer TokenIssuer, baseURL string, opts ...Option) *Flow {
	f := &Flow{
		store:          store,
		issuer:         issuer,
		logger:         zerolog.Nop(),
		baseURL:        baseURL,
		expiryDuration: DefaultExpiryDuration,
		pollInterval:   DefaultPollInterval,
		retainExpired:  DefaultRetainExpired,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.expiryDuration <= 0 {
		f.expiryDuration = DefaultExpiryDuration
	}
	// Intervals are communicated in whole seconds
	if f.pollInterval < time.Second {
		f.pollInterval = DefaultPollInterval
	}

	return f
}

// Issue creates a pending authorization request for a client per RFC 8628 section 3.1
func (f *Flow) Issue(ctx context.Context, clientID, scope string) (*DeviceCodeResponse, error) {
	if err := f.checkClient(clientID); err != nil {
		return nil, err
	}

	var (
		auth *DeviceAuthorization
		err  error
	)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		auth, err = f.newAuthorization(clientID, scope)
		if err != nil {
			return nil, err
		}

		err = f.store.Create(ctx, auth)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrUserCodeTaken) && !errors.Is(err, ErrDeviceCodeTaken) {
			return nil, fmt.Errorf("saving device authorization: %w", err)
		}
		f.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("code collision, regenerating")
	}
	if err != nil {
		return nil, fmt.Errorf("generating unique codes after %d attempts: %w", maxCodeAttempts, err)
	}

	verificationURI, verificationURIComplete := f.buildVerificationURIs(auth.UserCode)

	f.logger.Info().
		Str("client_id", clientID).
		Str("user_code", auth.UserCode).
		Time("expires_at", auth.ExpiresAt).
		Msg("device authorization issued")

	return &DeviceCodeResponse{
		DeviceCode:              auth.DeviceCode,
		UserCode:                auth.UserCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURIComplete,
		ExpiresIn:               auth.ExpiresIn(auth.CreatedAt),
		Interval:                auth.Interval,
	}, nil
}

func (f *Flow) newAuthorization(clientID, scope string) (*DeviceAuthorization, error) {
	deviceCode, err := generateDeviceCode()
	if err != nil {
		return nil, fmt.Errorf("generating device code: %w", err)
	}

	userCode, err := generateUserCode()
	if err != nil {
		return nil, fmt.Errorf("generating user code: %w", err)
	}

	now := f.now()
	return &DeviceAuthorization{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   clientID,
		Scope:      scope,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(f.expiryDuration),
		Interval:   int(f.pollInterval / time.Second),
	}, nil
}

func (f *Flow) checkClient(clientID string) error {
	if clientID == "" {
		return wrapError(ErrInvalidClient, "The client_id parameter is REQUIRED")
	}
	if f.allowedClients == nil {
		return nil
	}
	if _, ok := f.allowedClients[clientID]; !ok {
		return wrapError(ErrInvalidClient, "Unknown client_id")
	}
	return nil
}

// Lookup resolves a user code to its pending request for display before approval.
// The code is accepted in any case, with or without the separator.
func (f *Flow) Lookup(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	if err := validation.ValidateUserCode(userCode); err != nil {
		return nil, wrapError(ErrMalformedUserCode, err.Error())
	}

	auth, err := f.store.GetByUserCode(ctx, validation.NormalizeCode(userCode))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up user code: %w", err)
	}

	if auth.StatusAt(f.now()) != StatusPending {
		return nil, ErrNotFound
	}

	return auth, nil
}

// Purge deletes records that are past their retention window
func (f *Flow) Purge(ctx context.Context) (int, error) {
	n, err := f.store.PurgeExpired(ctx, f.now().Add(-f.retainExpired))
	if err != nil {
		return 0, fmt.Errorf("purging expired records: %w", err)
	}
	if n > 0 {
		f.logger.Debug().Int("count", n).Msg("purged expired device authorizations")
	}
	return n, nil
}

// RunPurge calls Purge every interval until ctx is done
func (f *Flow) RunPurge(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := f.Purge(ctx); err != nil {
				f.logger.Warn().Err(err).Msg("purge failed")
			}
		}
	}
}

// CheckHealth verifies the flow manager's storage backend is healthy
func (f *Flow) CheckHealth(ctx context.Context) error {
	return f.store.CheckHealth(ctx)
}
