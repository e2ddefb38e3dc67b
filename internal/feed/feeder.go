// Package feed holds the venue adapters and the feeder that moves their
// normalized events into the order book cache and the market catalog.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

// BookStore receives normalized snapshots.
type BookStore interface {
	Update(snap domain.OrderbookSnapshot) error
}

// MarketSink receives market metadata updates.
type MarketSink interface {
	Upsert(ctx context.Context, markets []domain.Market) error
}

// FeederStats are feeder counters.
type FeederStats struct {
	Books    uint64 `json:"books"`
	Stale    uint64 `json:"stale"`
	Metadata uint64 `json:"metadata"`
}

// Feeder drains the venue event stream. Book events go to the cache and
// metadata events to the matcher.
type Feeder struct {
	events  <-chan venue.Event
	books   BookStore
	markets MarketSink
	logger  *slog.Logger

	applied  atomic.Uint64
	stale    atomic.Uint64
	metadata atomic.Uint64
}

// NewFeeder creates a Feeder.
func NewFeeder(events <-chan venue.Event, books BookStore, markets MarketSink, logger *slog.Logger) *Feeder {
	return &Feeder{
		events:  events,
		books:   books,
		markets: markets,
		logger:  logger.With(slog.String("component", "feeder")),
	}
}

// Run consumes events until ctx is cancelled or the stream closes.
func (f *Feeder) Run(ctx context.Context) error {
	f.logger.Info("feeder started")
	defer f.logger.Info("feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-f.events:
			if !ok {
				return nil
			}
			f.handle(ctx, ev)
		}
	}
}

func (f *Feeder) handle(ctx context.Context, ev venue.Event) {
	switch ev.Kind {
	case venue.EventBook:
		if err := f.books.Update(ev.Book); err != nil {
			if errors.Is(err, domain.ErrStaleSequence) {
				f.stale.Add(1)
				return
			}
			f.logger.Warn("book update rejected",
				slog.String("market", ev.Book.Market.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		f.applied.Add(1)
	case venue.EventMarket:
		f.metadata.Add(1)
		if err := f.markets.Upsert(ctx, ev.Markets); err != nil {
			f.logger.Warn("market metadata upsert failed",
				slog.String("venue", string(ev.Venue)),
				slog.Int("markets", len(ev.Markets)),
				slog.String("error", err.Error()),
			)
		}
	default:
		f.logger.Debug("unknown event kind", slog.String("kind", string(ev.Kind)))
	}
}

// Stats returns a snapshot of the counters.
func (f *Feeder) Stats() FeederStats {
	return FeederStats{
		Books:    f.applied.Load(),
		Stale:    f.stale.Load(),
		Metadata: f.metadata.Load(),
	}
}
