// Package health reports whether the server's dependencies are reachable
package health

import (
	"context"
	"net/http"
	"sort"

	"github.com/wrale/phantom/cmd/phantom-server/handlers/common"
)

// Checker is a dependency that can report its health
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// Handler processes health check requests
type Handler struct {
	checks  map[string]Checker
	version string
}

// Response represents the health check response
type Response struct {
	Status  string                     `json:"status"`
	Version string                     `json:"version,omitempty"`
	Details map[string]ComponentStatus `json:"details,omitempty"`
}

// ComponentStatus is the health of one dependency
type ComponentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// New creates a new health check handler over the named checks
func New(checks map[string]Checker) *Handler {
	return &Handler{
		checks:  checks,
		version: "unknown",
	}
}

// WithVersion sets the version for health check responses
func (h *Handler) WithVersion(version string) *Handler {
	h.version = version
	return h
}

// ServeHTTP handles health check requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := Response{
		Status:  "healthy",
		Version: h.version,
		Details: make(map[string]ComponentStatus, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name].CheckHealth(r.Context()); err != nil {
			response.Status = "unhealthy"
			response.Details[name] = ComponentStatus{Status: "unhealthy", Message: err.Error()}
			continue
		}
		response.Details[name] = ComponentStatus{Status: "healthy"}
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	common.WriteJSON(w, status, response)
}
