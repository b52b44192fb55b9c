package verify

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/hlog"

	"github.com/wrale/phantom/internal/deviceflow"
	"github.com/wrale/phantom/internal/session"
	"github.com/wrale/phantom/internal/templates"
)

// HandleForm serves GET /device. Without a code it shows the entry form;
// with one it shows the approval page for the pending request.
func (h *Handler) HandleForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.sessions.Current(ctx, r)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			h.redirectToLogin(w, r)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("loading session")
		h.renderError(w, r, http.StatusInternalServerError,
			"Server Error", "Unable to load your session. Please try again.", "")
		return
	}

	data := templates.VerifyData{
		VerificationURI: h.verificationURI(),
		UserName:        sess.User.DisplayName(),
		LogoutURI:       h.baseURL + "/logout",
	}

	code := r.URL.Query().Get("user_code")
	if code == "" {
		h.renderVerify(w, r, http.StatusOK, sess, data)
		return
	}
	data.PrefilledCode = code

	auth, err := h.flow.Lookup(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, deviceflow.ErrMalformedUserCode):
			data.Error = "That doesn't look like a device code. Codes have eight letters and digits, like BCDF-GHJK."
			h.renderVerify(w, r, http.StatusBadRequest, sess, data)
		case errors.Is(err, deviceflow.ErrNotFound):
			data.Error = "This code is unknown or has expired. Check your device and try again."
			h.renderVerify(w, r, http.StatusNotFound, sess, data)
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("looking up user code")
			h.renderError(w, r, http.StatusInternalServerError,
				"Server Error", "Unable to look up this code. Please try again.", h.verificationURI())
		}
		return
	}

	token, err := h.csrf.GenerateToken(ctx, sess.ID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("generating csrf token")
		h.renderError(w, r, http.StatusInternalServerError,
			"Security Error", "Unable to process request securely. Please try again in a moment.", "")
		return
	}

	h.renderPage(w, r, h.templates.RenderApprove(w, http.StatusOK, templates.ApproveData{
		UserCode:         auth.UserCode,
		ClientID:         auth.ClientID,
		Scope:            auth.Scope,
		UserName:         sess.User.DisplayName(),
		CSRFToken:        token,
		ApproveURI:       h.baseURL + "/device/approve",
		DenyURI:          h.baseURL + "/device/deny",
		ExpiresInMinutes: (auth.ExpiresIn(timeNow()) + 59) / 60,
	}))
}

// renderVerify shows the code entry page. Its sign-out form carries a token
// of its own.
func (h *Handler) renderVerify(w http.ResponseWriter, r *http.Request, status int, sess *session.Session, data templates.VerifyData) {
	token, err := h.csrf.GenerateToken(r.Context(), sess.ID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("generating csrf token")
		h.renderError(w, r, http.StatusInternalServerError,
			"Security Error", "Unable to process request securely. Please try again in a moment.", "")
		return
	}
	data.CSRFToken = token
	h.renderPage(w, r, h.templates.RenderVerify(w, status, data))
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := h.baseURL + "/login?" + url.Values{"return_to": {r.URL.RequestURI()}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}
