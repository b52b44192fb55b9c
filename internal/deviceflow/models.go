package deviceflow

import "time"

// Status is the lifecycle state of a device authorization request
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	// StatusExpired is never persisted; it is derived from ExpiresAt on access.
	StatusExpired Status = "expired"
)

// DeviceAuthorization is one in-flight device authorization request per RFC 8628 section 3.1
type DeviceAuthorization struct {
	DeviceCode string `json:"device_code" bson:"device_code"`
	UserCode   string `json:"user_code" bson:"user_code"` // Display form, XXXX-XXXX
	ClientID   string `json:"client_id" bson:"client_id"`
	Scope      string `json:"scope,omitempty" bson:"scope,omitempty"`
	Status     Status `json:"status" bson:"status"`
	UserID     string `json:"user_id,omitempty" bson:"user_id,omitempty"` // Set on approve or deny

	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" bson:"expires_at"`
	Interval     int       `json:"interval" bson:"interval"` // Minimum seconds between polls
	LastPolledAt time.Time `json:"last_polled_at,omitempty" bson:"last_polled_at,omitempty"`

	// Version increments on every write; the mongo store uses it for compare-and-set.
	Version int64 `json:"version" bson:"version"`
}

// StatusAt returns the effective status at the given instant, applying lazy expiry
func (d *DeviceAuthorization) StatusAt(now time.Time) Status {
	if !now.Before(d.ExpiresAt) {
		return StatusExpired
	}
	return d.Status
}

// ExpiresIn returns the remaining lifetime in whole seconds, never negative
func (d *DeviceAuthorization) ExpiresIn(now time.Time) int {
	remaining := int(d.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DeviceCodeResponse is the device authorization response per RFC 8628 section 3.2
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	// Includes the user code so a single click (or QR scan) pre-fills the form, section 3.3.1
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// TokenResponse represents the OAuth2 token response per RFC 8628 section 3.5
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}
