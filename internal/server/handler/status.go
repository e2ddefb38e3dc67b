package handler

import (
	"net/http"
)

// StatusHandler serves engine counters for operators.
type StatusHandler struct {
	mode     string
	sections map[string]func() any
}

// NewStatusHandler creates a StatusHandler. Each section is evaluated per
// request.
func NewStatusHandler(mode string, sections map[string]func() any) *StatusHandler {
	return &StatusHandler{mode: mode, sections: sections}
}

// GetStatus responds with the run mode and every section's current value.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"mode": h.mode}
	for name, fn := range h.sections {
		out[name] = fn()
	}
	writeJSON(w, http.StatusOK, out)
}
