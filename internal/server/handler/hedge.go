package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/hedge"
	"github.com/alanyoungcy/crossarb/internal/orderbook"
)

// Planner computes hedge plans.
type Planner interface {
	ForFill(filled, complement domain.Fill, book domain.Quote) (hedge.Plan, error)
}

// BookReader reads cached order books.
type BookReader interface {
	Get(k domain.MarketKey) (orderbook.Entry, bool)
}

// ExecutionObserver checks fills for partial execution and slippage.
type ExecutionObserver interface {
	ObserveFill(ctx context.Context, f domain.Fill) bool
}

// HedgeHandler turns externally reported fills into hedge instructions.
type HedgeHandler struct {
	planner  Planner
	books    BookReader
	observer ExecutionObserver
	logger   *slog.Logger
}

// NewHedgeHandler creates a HedgeHandler. observer may be nil.
func NewHedgeHandler(planner Planner, books BookReader, observer ExecutionObserver, logger *slog.Logger) *HedgeHandler {
	return &HedgeHandler{planner: planner, books: books, observer: observer, logger: logHandler(logger, "hedge")}
}

type hedgeRequest struct {
	Filled     domain.Fill `json:"filled"`
	Complement domain.Fill `json:"complement"`
}

type hedgeResponse struct {
	Plan      hedge.Plan `json:"plan"`
	Alerts    int        `json:"alerts"`
	BookStale bool       `json:"book_stale"`
	BookFound bool       `json:"book_found"`
}

// Plan reports execution quality and returns the flattening instructions.
// POST /api/hedge
func (h *HedgeHandler) Plan(w http.ResponseWriter, r *http.Request) {
	var req hedgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Filled.Leg.Market.ID == "" || req.Complement.Leg.Market.ID == "" {
		writeError(w, http.StatusBadRequest, "filled and complement legs need a market")
		return
	}

	var resp hedgeResponse
	if h.observer != nil {
		for _, f := range []domain.Fill{req.Filled, req.Complement} {
			if h.observer.ObserveFill(r.Context(), f) {
				resp.Alerts++
			}
		}
	}

	var book domain.Quote
	if e, ok := h.books.Get(req.Complement.Leg.Market); ok {
		book = e.Snapshot.Quote(req.Complement.Leg.Outcome)
		resp.BookFound = true
		resp.BookStale = e.Stale
	}

	plan, err := h.planner.ForFill(req.Filled, req.Complement, book)
	if err != nil {
		h.logger.Warn("hedge plan failed",
			slog.String("market", req.Complement.Leg.Market.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp.Plan = plan
	writeJSON(w, http.StatusOK, resp)
}
