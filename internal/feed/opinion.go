package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/platform/opinion"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

// metadataEvery is how many poll cycles pass between metadata refreshes.
const metadataEvery = 30

// OpinionAdapter polls Opinion's REST order books on a fixed interval. It is
// also a fee source: the venue reports per-token maker and taker rates.
type OpinionAdapter struct {
	client     *opinion.Client
	interval   time.Duration
	maxMarkets int
	tz         string
	base       domain.FeeSchedule
	seq        *venue.Sequencer
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	connected bool
	markets   []domain.Market
	probe     string // token used for fee queries
}

// NewOpinionAdapter creates the Opinion adapter. base supplies the fee
// fields the venue does not report (caps, fixed and gas costs).
func NewOpinionAdapter(client *opinion.Client, interval time.Duration, maxMarkets int, tz string, base domain.FeeSchedule, logger *slog.Logger) *OpinionAdapter {
	base.Venue = domain.VenueOpinion
	return &OpinionAdapter{
		client:     client,
		interval:   interval,
		maxMarkets: maxMarkets,
		tz:         tz,
		base:       base,
		seq:        venue.NewSequencer(),
		logger:     logger.With(slog.String("component", "opinion_adapter")),
		now:        time.Now,
	}
}

// Venue implements venue.Adapter.
func (a *OpinionAdapter) Venue() domain.VenueID { return domain.VenueOpinion }

// Capabilities implements venue.Adapter.
func (a *OpinionAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{FeeQuery: true}
}

// Discover implements venue.Adapter.
func (a *OpinionAdapter) Discover(ctx context.Context) ([]domain.Market, error) {
	markets, err := a.client.ListActiveMarkets(ctx, a.maxMarkets, a.tz)
	if err != nil {
		return nil, fmt.Errorf("feed: opinion discover: %w", err)
	}
	a.mu.Lock()
	if a.probe == "" && len(markets) > 0 {
		a.probe = markets[0].TokenFor(domain.OutcomeYes)
	}
	a.mu.Unlock()
	return markets, nil
}

// Connect implements venue.Adapter. There is no socket; a cheap listing call
// proves the API is reachable.
func (a *OpinionAdapter) Connect(ctx context.Context) error {
	if _, err := a.client.Markets(ctx, 1, 1); err != nil {
		return err
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

// Subscribe implements venue.Adapter.
func (a *OpinionAdapter) Subscribe(_ context.Context, markets []domain.Market) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("feed: opinion: %w", domain.ErrNotConnected)
	}
	a.markets = append([]domain.Market(nil), markets...)
	if len(markets) > 0 {
		a.probe = markets[0].TokenFor(domain.OutcomeYes)
	}
	return nil
}

// Stream implements venue.Adapter. A cycle in which every book request fails
// ends the session.
func (a *OpinionAdapter) Stream(ctx context.Context, sink chan<- venue.Event) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for cycle := 1; ; cycle++ {
		if err := a.poll(ctx, sink); err != nil {
			return err
		}
		if cycle%metadataEvery == 0 {
			a.refreshMetadata(ctx, sink)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *OpinionAdapter) poll(ctx context.Context, sink chan<- venue.Event) error {
	a.mu.Lock()
	markets := a.markets
	a.mu.Unlock()

	var (
		failed  int
		lastErr error
	)
	for _, m := range markets {
		snap, err := a.book(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			lastErr = err
			a.logger.Debug("order book poll failed",
				slog.String("market", m.Key.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := venue.Emit(ctx, sink, venue.Event{Kind: venue.EventBook, Venue: domain.VenueOpinion, Book: snap}); err != nil {
			return err
		}
	}
	if len(markets) > 0 && failed == len(markets) {
		return fmt.Errorf("feed: opinion: every book request failed: %w", lastErr)
	}
	return nil
}

func (a *OpinionAdapter) book(ctx context.Context, m domain.Market) (domain.OrderbookSnapshot, error) {
	yes, err := a.client.Orderbook(ctx, m.TokenFor(domain.OutcomeYes))
	if err != nil {
		return domain.OrderbookSnapshot{}, err
	}
	no, err := a.client.Orderbook(ctx, m.TokenFor(domain.OutcomeNo))
	if err != nil {
		return domain.OrderbookSnapshot{}, err
	}
	return domain.OrderbookSnapshot{
		Market:    m.Key,
		Yes:       yes.Quote(),
		No:        no.Quote(),
		Sequence:  a.seq.Next(m.Key.ID),
		Timestamp: a.now(),
	}, nil
}

// refreshMetadata re-lists markets and emits the subscribed ones so that
// resolution-source and expiry changes reach the matcher mid-session.
func (a *OpinionAdapter) refreshMetadata(ctx context.Context, sink chan<- venue.Event) {
	listed, err := a.client.ListActiveMarkets(ctx, a.maxMarkets, a.tz)
	if err != nil {
		a.logger.Debug("metadata refresh failed", slog.String("error", err.Error()))
		return
	}
	a.mu.Lock()
	want := make(map[domain.MarketKey]bool, len(a.markets))
	for _, m := range a.markets {
		want[m.Key] = true
	}
	a.mu.Unlock()

	var out []domain.Market
	for _, m := range listed {
		if want[m.Key] {
			out = append(out, m)
		}
	}
	if len(out) > 0 {
		_ = venue.Emit(ctx, sink, venue.Event{Kind: venue.EventMarket, Venue: domain.VenueOpinion, Markets: out})
	}
}

// Disconnect implements venue.Adapter.
func (a *OpinionAdapter) Disconnect() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

// FeeSchedule implements venue.FeeSource using the rates reported for a
// representative token.
func (a *OpinionAdapter) FeeSchedule(ctx context.Context) (domain.FeeSchedule, error) {
	a.mu.Lock()
	probe := a.probe
	a.mu.Unlock()
	if probe == "" {
		return domain.FeeSchedule{}, fmt.Errorf("feed: opinion fees: no market known yet: %w", domain.ErrUnknownFee)
	}
	rates, err := a.client.FeeRates(ctx, probe)
	if err != nil {
		return domain.FeeSchedule{}, fmt.Errorf("feed: opinion fees: %w", err)
	}
	s := a.base
	s.TakerRate = rates.TakerFee
	s.MakerRate = rates.MakerFee
	return s, nil
}
