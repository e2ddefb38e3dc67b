package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// VenueLister reports venue connection states.
type VenueLister interface {
	Statuses() []domain.VenueStatus
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	venues    VenueLister
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(venues VenueLister, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{venues: venues, startedAt: time.Now(), logger: logger}
}

// HealthCheck reports "ok" while at least two venues are usable, since a
// single venue cannot produce cross-venue opportunities, and "degraded"
// otherwise. It always answers 200 so liveness probes do not restart the
// engine during venue outages.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	usable := 0
	statuses := h.venues.Statuses()
	for _, st := range statuses {
		if st.State.Usable() {
			usable++
		}
	}
	status := "ok"
	if usable < 2 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"usable_venues":  usable,
		"venues":         len(statuses),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// ListVenues returns every venue's connection state.
// GET /api/venues
func (h *HealthHandler) ListVenues(w http.ResponseWriter, r *http.Request) {
	statuses := h.venues.Statuses()
	if statuses == nil {
		statuses = []domain.VenueStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"venues": statuses})
}
