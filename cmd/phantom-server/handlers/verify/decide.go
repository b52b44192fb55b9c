package verify

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/wrale/phantom/cmd/phantom-server/handlers/common"
	"github.com/wrale/phantom/internal/deviceflow"
	"github.com/wrale/phantom/internal/session"
	"github.com/wrale/phantom/internal/templates"
)

type decision struct {
	name    string
	apply   func(ctx context.Context, userCode, userID string) (*deviceflow.DeviceAuthorization, error)
	title   string
	message string
}

// DecisionResponse is the JSON answer to an approve or deny request
type DecisionResponse struct {
	Status   deviceflow.Status `json:"status"`
	UserCode string            `json:"user_code"`
}

// HandleApprove serves POST /device/approve
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, decision{
		name:    "approved",
		apply:   h.flow.Approve,
		title:   "Device Authorized",
		message: "You have successfully authorized the device.",
	})
}

// HandleDeny serves POST /device/deny
func (h *Handler) HandleDeny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, decision{
		name:    "denied",
		apply:   h.flow.Deny,
		title:   "Request Denied",
		message: "The device will not be given access.",
	})
}

// decide accepts either the approval page's form post or a JSON body. Form
// posts must carry the CSRF token issued with the page.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, d decision) {
	ctx := r.Context()
	asJSON := common.IsJSON(r)

	fail := func(status int, err error) {
		if asJSON {
			common.WriteError(w, status, deviceflow.ErrorCode(err), common.Description(err))
			return
		}
		retry := h.verificationURI()
		if status == http.StatusUnauthorized {
			retry = h.baseURL + "/login"
		}
		h.renderError(w, r, status, http.StatusText(status), common.Description(err), retry)
	}

	sess, err := h.sessions.Current(ctx, r)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			hlog.FromRequest(r).Error().Err(err).Msg("loading session")
			fail(http.StatusInternalServerError, err)
			return
		}
		fail(http.StatusUnauthorized, deviceflow.ErrUnauthenticated)
		return
	}

	params, err := common.ParseParams(w, r)
	if err != nil {
		if asJSON {
			common.WriteError(w, http.StatusBadRequest, deviceflow.ErrorCodeInvalidRequest, err.Error())
			return
		}
		h.renderError(w, r, http.StatusBadRequest, "Invalid Request", err.Error(), h.verificationURI())
		return
	}

	if !asJSON {
		if err := h.csrf.ValidateToken(ctx, params.Get("csrf_token"), sess.ID); err != nil {
			h.renderError(w, r, http.StatusForbidden,
				"Invalid Request", "This form has expired. Please enter your code again.", h.verificationURI())
			return
		}
	}

	userCode := params.Get("user_code")
	auth, err := d.apply(ctx, userCode, sess.User.ID)
	if err != nil {
		status := common.ApprovalStatus(err)
		if status == http.StatusInternalServerError {
			hlog.FromRequest(r).Error().Err(err).Str("decision", d.name).Msg("recording decision")
		}
		fail(status, err)
		return
	}

	hlog.FromRequest(r).Info().
		Str("user_code", auth.UserCode).
		Str("client_id", auth.ClientID).
		Str("user_id", sess.User.ID).
		Msg("device " + d.name)

	if asJSON {
		common.WriteJSON(w, http.StatusOK, DecisionResponse{Status: auth.Status, UserCode: auth.UserCode})
		return
	}
	h.renderPage(w, r, h.templates.RenderComplete(w, http.StatusOK, templates.CompleteData{
		Title:   d.title,
		Message: d.message,
	}))
}
