package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// SessionController is the session manager surface the API drives.
type SessionController interface {
	Start(tenant string, cfg domain.SessionConfig) (domain.SessionStatus, error)
	Stop(tenant string) (domain.SessionStatus, error)
	Status(tenant string) domain.SessionStatus
	Statuses() []domain.SessionStatus
}

// SessionHandler serves the per-tenant session endpoints.
type SessionHandler struct {
	sessions SessionController
	defaults domain.SessionConfig
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler. defaults fill fields missing
// from a start request.
func NewSessionHandler(sessions SessionController, defaults domain.SessionConfig, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, defaults: defaults, logger: logHandler(logger, "session")}
}

// startRequest mirrors domain.SessionConfig with optional fields.
type startRequest struct {
	MinROI      *decimal.Decimal `json:"min_roi"`
	MaxPosition *decimal.Decimal `json:"max_position"`
	Venues      []domain.VenueID `json:"venues"`
	AutoExecute *bool            `json:"auto_execute"`
}

func (h *SessionHandler) config(req startRequest) domain.SessionConfig {
	cfg := h.defaults
	cfg.Venues = append([]domain.VenueID(nil), h.defaults.Venues...)
	if req.MinROI != nil {
		cfg.MinROI = *req.MinROI
	}
	if req.MaxPosition != nil {
		cfg.MaxPosition = *req.MaxPosition
	}
	if req.Venues != nil {
		cfg.Venues = req.Venues
	}
	if req.AutoExecute != nil {
		cfg.AutoExecute = *req.AutoExecute
	}
	return cfg
}

// Start begins a session for the tenant.
// POST /api/sessions/{tenant}/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.sessions.Start(tenant, h.config(req))
	if err != nil {
		h.logger.Warn("session start rejected",
			slog.String("tenant", tenant),
			slog.String("error", err.Error()),
		)
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "session": st})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Stop ends the tenant's session.
// POST /api/sessions/{tenant}/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessions.Stop(r.PathValue("tenant"))
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "session": st})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Status returns the tenant's session status.
// GET /api/sessions/{tenant}
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Status(r.PathValue("tenant")))
}

// List returns every known session.
// GET /api/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.Statuses()})
}
