package deviceflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/wrale/phantom/internal/validation"
)

// Approve records the signed-in user's consent for the request behind userCode.
// Approving an already approved request is a no-op.
func (f *Flow) Approve(ctx context.Context, userCode, userID string) (*DeviceAuthorization, error) {
	auth, err := f.decide(ctx, userCode, userID, StatusApproved)
	if err != nil {
		return nil, err
	}

	f.logger.Info().
		Str("user_code", auth.UserCode).
		Str("user_id", auth.UserID).
		Msg("device authorization approved")
	return auth, nil
}

// Deny records the signed-in user's refusal. Denying twice is a no-op.
func (f *Flow) Deny(ctx context.Context, userCode, userID string) (*DeviceAuthorization, error) {
	auth, err := f.decide(ctx, userCode, userID, StatusDenied)
	if err != nil {
		return nil, err
	}

	f.logger.Info().
		Str("user_code", auth.UserCode).
		Str("user_id", userID).
		Msg("device authorization denied")
	return auth, nil
}

// decide moves a pending request to the target status. A request already in
// the target status is left untouched; one in the opposite status conflicts.
func (f *Flow) decide(ctx context.Context, userCode, userID string, target Status) (*DeviceAuthorization, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if err := validation.ValidateUserCode(userCode); err != nil {
		return nil, wrapError(ErrMalformedUserCode, err.Error())
	}

	found, err := f.store.GetByUserCode(ctx, validation.NormalizeCode(userCode))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up user code: %w", err)
	}

	now := f.now()
	auth, err := f.store.Update(ctx, found.DeviceCode, func(a *DeviceAuthorization) error {
		switch a.StatusAt(now) {
		case StatusExpired:
			return ErrExpiredToken
		case target:
			return errNoChange
		case StatusPending:
			a.Status = target
			a.UserID = userID
			return nil
		default:
			return ErrConflict
		}
	})
	switch {
	case err == nil:
		return auth, nil
	case errors.Is(err, errNoChange):
		return found, nil
	case errors.Is(err, ErrRecordNotFound):
		return nil, ErrNotFound
	case errors.Is(err, ErrExpiredToken), errors.Is(err, ErrConflict):
		return nil, err
	default:
		return nil, fmt.Errorf("recording decision: %w", err)
	}
}

// errNoChange aborts an update that would not alter the record
var errNoChange = errors.New("no change")
