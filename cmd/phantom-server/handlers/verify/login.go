package verify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/wrale/phantom/internal/oauth"
	"github.com/wrale/phantom/internal/session"
	"github.com/wrale/phantom/internal/templates"
)

// HandleLogin serves GET /login and sends the browser to the upstream provider
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := safeReturnTo(r.URL.Query().Get("return_to"))

	// A signed-in browser keeps its session
	if _, err := h.sessions.Current(r.Context(), r); err == nil {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return
	}

	pending, err := h.sessions.BeginLogin(r.Context(), w, returnTo)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("starting login")
		h.renderError(w, r, http.StatusInternalServerError,
			"Server Error", "Unable to start sign-in. Please try again.", "")
		return
	}
	http.Redirect(w, r, h.login.AuthCodeURL(pending.LoginState, pending.Verifier), http.StatusFound)
}

// HandleCallback serves GET /login/callback
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		hlog.FromRequest(r).Info().Str("error", e).Msg("upstream login refused")
		h.renderError(w, r, http.StatusUnauthorized,
			"Sign-in Failed", "Sign-in was cancelled or refused.", h.baseURL+"/login")
		return
	}

	pending, err := h.sessions.PendingLogin(ctx, r, q.Get("state"))
	if err != nil {
		if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrStateMismatch) {
			h.renderError(w, r, http.StatusBadRequest,
				"Invalid Request", "This sign-in link is stale. Please start again.", h.baseURL+"/login")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("loading login session")
		h.renderError(w, r, http.StatusInternalServerError,
			"Server Error", "Unable to complete sign-in. Please try again.", "")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.renderError(w, r, http.StatusBadRequest,
			"Invalid Request", "No authorization code received.", h.baseURL+"/login")
		return
	}

	user, err := h.login.Exchange(ctx, code, pending.Verifier)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, oauth.ErrInvalidGrant) {
			status = http.StatusUnauthorized
		} else {
			hlog.FromRequest(r).Error().Err(err).Msg("completing upstream login")
		}
		h.renderError(w, r, status,
			"Sign-in Failed", "Unable to complete sign-in. Please try again.", h.baseURL+"/login")
		return
	}

	if _, err := h.sessions.CompleteLogin(ctx, w, pending, session.User{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
	}); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("saving session")
		h.renderError(w, r, http.StatusInternalServerError,
			"Server Error", "Unable to complete sign-in. Please try again.", "")
		return
	}

	hlog.FromRequest(r).Info().Str("user_id", user.ID).Msg("user signed in")
	http.Redirect(w, r, pending.ReturnTo, http.StatusFound)
}

// HandleLogout serves POST /logout. A signed-in browser must send the
// csrf_token from the code entry page.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.sessions.Current(ctx, r)
	switch {
	case errors.Is(err, session.ErrNoSession):
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("loading session")
		h.renderError(w, r, http.StatusInternalServerError,
			"Server Error", "Unable to sign out. Please try again.", "")
		return
	default:
		if err := h.csrf.ValidateToken(ctx, r.PostFormValue("csrf_token"), sess.ID); err != nil {
			h.renderError(w, r, http.StatusForbidden,
				"Invalid Request", "This sign-out form has expired. Please try again.", h.verificationURI())
			return
		}
	}

	if err := h.sessions.End(ctx, w, r); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("ending session")
	}
	h.renderPage(w, r, h.templates.RenderComplete(w, http.StatusOK, templates.CompleteData{
		Title:   "Signed Out",
		Message: "You have been signed out.",
	}))
}

// safeReturnTo only allows local paths so the login cannot be used as an open redirect
func safeReturnTo(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/device"
	}
	return target
}
