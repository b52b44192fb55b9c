package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Poll handles a device access token request per RFC 8628 section 3.4.
// It returns a token exactly once for an approved request; every other
// outcome is one of the section 3.5 errors.
func (f *Flow) Poll(ctx context.Context, deviceCode, clientID string) (*TokenResponse, error) {
	if deviceCode == "" {
		return nil, wrapError(ErrInvalidGrant, "The device_code parameter is REQUIRED")
	}

	now := f.now()
	var previousPoll time.Time

	auth, err := f.store.Update(ctx, deviceCode, func(a *DeviceAuthorization) error {
		if a.ClientID != clientID {
			return ErrInvalidGrant
		}
		previousPoll = a.LastPolledAt
		a.LastPolledAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrInvalidGrant) {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("recording poll: %w", err)
	}

	switch auth.StatusAt(now) {
	case StatusExpired:
		return nil, ErrExpiredToken
	case StatusDenied:
		return nil, ErrAccessDenied
	}

	interval := time.Duration(auth.Interval) * time.Second
	if !previousPoll.IsZero() && now.Sub(previousPoll) < interval {
		f.logger.Debug().Str("client_id", clientID).Msg("client polling too fast")
		return nil, ErrSlowDown
	}

	if auth.Status != StatusApproved {
		return nil, ErrAuthorizationPending
	}

	return f.redeem(ctx, auth)
}

// redeem mints a token and consumes the record. Only the caller that wins
// Consume returns the token; the loser sees invalid_grant.
func (f *Flow) redeem(ctx context.Context, auth *DeviceAuthorization) (*TokenResponse, error) {
	token, err := f.issuer.IssueToken(ctx, auth)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	if _, err := f.store.Consume(ctx, auth.DeviceCode); err != nil {
		if errors.Is(err, ErrNotApproved) || errors.Is(err, ErrRecordNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("consuming device authorization: %w", err)
	}

	f.logger.Info().
		Str("client_id", auth.ClientID).
		Str("user_id", auth.UserID).
		Msg("device authorization redeemed")

	return token, nil
}
