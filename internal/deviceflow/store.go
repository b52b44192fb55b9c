// Package deviceflow implements OAuth 2.0 Device Authorization Grant (RFC 8628)
package deviceflow

import (
	"context"
	"time"
)

// Store persists device authorization records.
//
// Every mutation is a compare-and-set on a single record: concurrent Update
// calls on the same device code are serialised, and Consume removes a record
// only if it is still approved at the moment of removal.
type Store interface {
	// Create stores a new record. It fails with ErrUserCodeTaken when another
	// unexpired record holds the same user code, and ErrDeviceCodeTaken on a
	// device code collision.
	Create(ctx context.Context, auth *DeviceAuthorization) error

	// Get retrieves a record by device code, or ErrRecordNotFound
	Get(ctx context.Context, deviceCode string) (*DeviceAuthorization, error)

	// GetByUserCode retrieves a record by user code in any format, or ErrRecordNotFound
	GetByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error)

	// Update applies fn to a copy of the record and stores the result atomically.
	// fn may run more than once when a concurrent write is detected. An error
	// from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, deviceCode string, fn func(*DeviceAuthorization) error) (*DeviceAuthorization, error)

	// Consume deletes an approved record and returns it. It fails with
	// ErrNotApproved if the record is in any other state and ErrRecordNotFound
	// if it no longer exists.
	Consume(ctx context.Context, deviceCode string) (*DeviceAuthorization, error)

	// PurgeExpired deletes records whose expiry is at or before the given time
	PurgeExpired(ctx context.Context, before time.Time) (int, error)

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}
