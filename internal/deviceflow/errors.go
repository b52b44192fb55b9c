package deviceflow

import (
	"errors"
	"fmt"
)

// Error codes per RFC 6749 section 5.2 and RFC 8628 section 3.5
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnsupportedGrant     = "unsupported_grant_type"
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeServerError          = "server_error"
	ErrorCodeNotFound             = "not_found"
	ErrorCodeConflict             = "conflict"
	ErrorCodeUnauthenticated      = "unauthenticated"
)

// GrantTypeDeviceCode is the only grant type accepted at the token endpoint
const GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// Errors returned by the flow. Poll returns the RFC 8628 ones; the approval
// side returns ErrNotFound, ErrConflict and ErrUnauthenticated.
var (
	ErrInvalidClient        = errors.New("invalid client")
	ErrInvalidGrant         = errors.New("invalid device code")
	ErrAuthorizationPending = errors.New("authorization pending")
	ErrSlowDown             = errors.New("polling too frequently")
	ErrAccessDenied         = errors.New("authorization denied")
	ErrExpiredToken         = errors.New("code expired")

	ErrMalformedUserCode = errors.New("malformed user code")
	ErrNotFound          = errors.New("no pending authorization for user code")
	ErrConflict          = errors.New("authorization already decided")
	ErrUnauthenticated   = errors.New("authenticated user required")

	// Store-level errors
	ErrUserCodeTaken   = errors.New("user code already in use")
	ErrDeviceCodeTaken = errors.New("device code already in use")
	ErrRecordNotFound  = errors.New("device authorization not found")
	ErrNotApproved     = errors.New("device authorization not approved")
)

// DeviceFlowError carries an RFC error code and a human readable description
type DeviceFlowError struct {
	Code        string
	Description string
	Err         error
}

func (e *DeviceFlowError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *DeviceFlowError) Unwrap() error { return e.Err }

// NewDeviceFlowError creates a new DeviceFlowError
func NewDeviceFlowError(code, description string) *DeviceFlowError {
	return &DeviceFlowError{Code: code, Description: description}
}

// wrapError attaches the RFC code for err so transports can answer with it
func wrapError(err error, description string) error {
	return &DeviceFlowError{Code: ErrorCode(err), Description: description, Err: err}
}

// ErrorCode maps an error from this package to its RFC error code
func ErrorCode(err error) string {
	var dferr *DeviceFlowError
	if errors.As(err, &dferr) && dferr.Code != "" {
		return dferr.Code
	}

	switch {
	case errors.Is(err, ErrInvalidClient):
		return ErrorCodeInvalidClient
	case errors.Is(err, ErrInvalidGrant):
		return ErrorCodeInvalidGrant
	case errors.Is(err, ErrAuthorizationPending):
		return ErrorCodeAuthorizationPending
	case errors.Is(err, ErrSlowDown):
		return ErrorCodeSlowDown
	case errors.Is(err, ErrAccessDenied):
		return ErrorCodeAccessDenied
	case errors.Is(err, ErrExpiredToken):
		return ErrorCodeExpiredToken
	case errors.Is(err, ErrMalformedUserCode):
		return ErrorCodeInvalidRequest
	case errors.Is(err, ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, ErrConflict):
		return ErrorCodeConflict
	case errors.Is(err, ErrUnauthenticated):
		return ErrorCodeUnauthenticated
	default:
		return ErrorCodeServerError
	}
}
