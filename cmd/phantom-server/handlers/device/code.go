// Package device serves the device authorization endpoint per RFC 8628 section 3.1
package device

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/wrale/phantom/cmd/phantom-server/handlers/common"
	"github.com/wrale/phantom/internal/deviceflow"
)

// Issuer starts device authorization requests
type Issuer interface {
	Issue(ctx context.Context, clientID, scope string) (*deviceflow.DeviceCodeResponse, error)
}

// Handler processes device code requests per RFC 8628 section 3.2
type Handler struct {
	flow Issuer
}

// New creates a new device code request handler
func New(flow Issuer) *Handler {
	return &Handler{
		flow: flow,
	}
}

// ServeHTTP handles device code requests
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

	clientID := params.Get("client_id")
	if clientID == "" {
		common.WriteError(w, http.StatusBadRequest, deviceflow.ErrorCodeInvalidRequest, "The client_id parameter is REQUIRED")
		return
	}

	resp, err := h.flow.Issue(r.Context(), clientID, params.Get("scope"))
	if err != nil {
		if deviceflow.ErrorCode(err) == deviceflow.ErrorCodeServerError {
			hlog.FromRequest(r).Error().Err(err).Str("client_id", clientID).Msg("issuing device code")
		}
		common.WriteFlowError(w, err)
		return
	}

	hlog.FromRequest(r).Info().
		Str("client_id", clientID).
		Str("user_code", resp.UserCode).
		Msg("device code issued")
	common.WriteJSON(w, http.StatusCreated, resp)
}
