package verify

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/wrale/phantom/internal/templates"
)

// renderError shows the error page, falling back to plain text
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, title, message, retryURI string) {
	err := h.templates.RenderError(w, status, templates.ErrorData{
		Title:    title,
		Message:  message,
		RetryURI: retryURI,
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("rendering error page")
		http.Error(w, title+": "+message, status)
	}
}

// renderPage reports a failed render; the templates only write on success
func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	hlog.FromRequest(r).Error().Err(err).Msg("rendering page")
	http.Error(w, "error rendering page", http.StatusInternalServerError)
}
