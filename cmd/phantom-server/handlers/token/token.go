// Package token serves the device access token endpoint per RFC 8628 section 3.4
package token

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/wrale/phantom/cmd/phantom-server/handlers/common"
	"github.com/wrale/phantom/internal/deviceflow"
)

// Poller answers device access token requests
type Poller interface {
	Poll(ctx context.Context, deviceCode, clientID string) (*deviceflow.TokenResponse, error)
}

// Handler processes device access token requests per RFC 8628 section 3.4
type Handler struct {
	flow Poller
}

// New creates a new token request handler
func New(flow Poller) *Handler {
	return &Handler{
		flow: flow,
	}
}

// ServeHTTP handles token polling requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.WriteError(w, http.StatusMethodNotAllowed, deviceflow.ErrorCodeInvalidRequest, "POST method required")
		return
	}

	params, err := common.ParseParams(w, r)
	if err != nil {
		common.WriteError(w, http.StatusBadRequest, deviceflow.ErrorCodeInvalidRequest, err.Error())
		return
	}

	grantType := params.Get("grant_type")
	if grantType == "" {
		common.WriteError(w, http.StatusBadRequest, deviceflow.ErrorCodeInvalidRequest,
			"The grant_type parameter is REQUIRED")
		return
	}
	if grantType != deviceflow.GrantTypeDeviceCode {
		common.WriteError(w, http.StatusBadRequest, deviceflow.ErrorCodeUnsupportedGrant,
			"Only "+deviceflow.GrantTypeDeviceCode+" is supported")
		return
	}

	deviceCode := params.Get("device_code")
	if deviceCode == "" {
		common.WriteError(w, http.StatusBadRequest, deviceflow.ErrorCodeInvalidRequest,
			"The device_code parameter is REQUIRED")
		return
	}

	clientID := params.Get("client_id")
	if clientID == "" {
		common.WriteError(w, http.StatusBadRequest, deviceflow.ErrorCodeInvalidRequest,
			"The client_id parameter is REQUIRED for public clients")
		return
	}

	token, err := h.flow.Poll(r.Context(), deviceCode, clientID)
	if err != nil {
		if deviceflow.ErrorCode(err) == deviceflow.ErrorCodeServerError {
			hlog.FromRequest(r).Error().Err(err).Str("client_id", clientID).Msg("polling device code")
		}
		common.WriteFlowError(w, err)
		return
	}

	common.WriteJSON(w, http.StatusOK, token)
}
