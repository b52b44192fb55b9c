// Package common holds the response and request helpers shared by the handlers
package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wrale/phantom/internal/deviceflow"
)

// ErrorResponse is the RFC 6749 section 5.2 error body
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// SetJSONHeaders sets required headers for JSON responses per RFC 8628
func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
}

// WriteJSON sends v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	SetJSONHeaders(w)

	body, err := json.Marshal(v)
	if err != nil {
		WriteJSONError(w, err)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// WriteError sends a standardized error response per RFC 8628 section 3.5
func WriteError(w http.ResponseWriter, status int, code string, description string) {
	WriteJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: strings.TrimSpace(description),
	})
}

// WriteJSONError handles JSON encoding failures with a standardized response
func WriteJSONError(w http.ResponseWriter, _ error) {
	SetJSONHeaders(w)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"server_error","error_description":"Failed to encode response"}`))
}

// WriteFlowError answers a device or token endpoint request that failed in the flow
func WriteFlowError(w http.ResponseWriter, err error) {
	code := deviceflow.ErrorCode(err)
	status := http.StatusBadRequest
	if code == deviceflow.ErrorCodeServerError {
		status = http.StatusInternalServerError
	}
	WriteError(w, status, code, Description(err))
}

// Description returns the client facing text for err. Internal errors are not exposed.
func Description(err error) string {
	var dferr *deviceflow.DeviceFlowError
	if errors.As(err, &dferr) && dferr.Description != "" {
		return dferr.Description
	}

	switch {
	case errors.Is(err, deviceflow.ErrInvalidClient):
		return "The client is not allowed to use the device flow"
	case errors.Is(err, deviceflow.ErrInvalidGrant):
		return "The device_code is invalid or has already been used"
	case errors.Is(err, deviceflow.ErrAuthorizationPending):
		return "The authorization request is still pending"
	case errors.Is(err, deviceflow.ErrSlowDown):
		return "Polling interval must be increased by 5 seconds"
	case errors.Is(err, deviceflow.ErrAccessDenied):
		return "The user denied the authorization request"
	case errors.Is(err, deviceflow.ErrExpiredToken):
		return "The code has expired"
	case errors.Is(err, deviceflow.ErrMalformedUserCode):
		return "The user code is not in the expected format"
	case errors.Is(err, deviceflow.ErrNotFound):
		return "No pending request matches this code"
	case errors.Is(err, deviceflow.ErrConflict):
		return "This request has already been decided"
	case errors.Is(err, deviceflow.ErrUnauthenticated):
		return "Sign in to continue"
	default:
		return "An unexpected error occurred processing the request"
	}
}

// ApprovalStatus maps an approval side error to its HTTP status
func ApprovalStatus(err error) int {
	switch {
	case errors.Is(err, deviceflow.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, deviceflow.ErrMalformedUserCode):
		return http.StatusBadRequest
	case errors.Is(err, deviceflow.ErrNotFound), errors.Is(err, deviceflow.ErrExpiredToken):
		return http.StatusNotFound
	case errors.Is(err, deviceflow.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
