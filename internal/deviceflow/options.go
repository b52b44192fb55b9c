package deviceflow

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures the device flow implementation
type Option func(*Flow)

// WithExpiryDuration sets the lifetime of device and user codes
func WithExpiryDuration(d time.Duration) Option {
	return func(f *Flow) {
		f.expiryDuration = d
	}
}

// WithPollInterval sets the minimum polling interval handed to clients
// per RFC 8628 section 3.5, clients must wait between polling attempts
func WithPollInterval(d time.Duration) Option {
	return func(f *Flow) {
		f.pollInterval = d
	}
}

// WithRetainExpired keeps expired records readable for d so late polls
// report expired_token instead of invalid_grant
func WithRetainExpired(d time.Duration) Option {
	return func(f *Flow) {
		f.retainExpired = d
	}
}

// WithAllowedClients restricts issuance to the given client identifiers.
// An empty list accepts any non-empty client_id.
func WithAllowedClients(clientIDs ...string) Option {
	return func(f *Flow) {
		if len(clientIDs) == 0 {
			f.allowedClients = nil
			return
		}
		f.allowedClients = make(map[string]struct{}, len(clientIDs))
		for _, id := range clientIDs {
			f.allowedClients[id] = struct{}{}
		}
	}
}

// WithLogger sets the logger used for flow events
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.now = now
	}
}
