package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/platform/polymarket"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

// PolymarketAdapter streams Polymarket books over the CLOB market channel.
// Each binary market is two tokens; a market snapshot is emitted once both
// have a book. Polymarket does not number messages, so sequences are local.
type PolymarketAdapter struct {
	gamma      *polymarket.GammaClient
	wsURL      string
	maxMarkets int
	tz         string
	seq        *venue.Sequencer
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	ws         *polymarket.WSClient
	tokens     map[string]domain.MarketKey    // token id -> market
	pairs      map[domain.MarketKey][2]string // YES and NO token ids
	books      map[string]*polymarket.TokenBook
	subscribed map[string]bool
}

// NewPolymarketAdapter creates the Polymarket adapter.
func NewPolymarketAdapter(gamma *polymarket.GammaClient, wsURL string, maxMarkets int, tz string, logger *slog.Logger) *PolymarketAdapter {
	return &PolymarketAdapter{
		gamma:      gamma,
		wsURL:      wsURL,
		maxMarkets: maxMarkets,
		tz:         tz,
		seq:        venue.NewSequencer(),
		logger:     logger.With(slog.String("component", "polymarket_adapter")),
		now:        time.Now,
		tokens:     make(map[string]domain.MarketKey),
	}
}

// Venue implements venue.Adapter.
func (a *PolymarketAdapter) Venue() domain.VenueID { return domain.VenuePolymarket }

// Capabilities implements venue.Adapter.
func (a *PolymarketAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{Streaming: true}
}

// Discover implements venue.Adapter.
func (a *PolymarketAdapter) Discover(ctx context.Context) ([]domain.Market, error) {
	markets, err := a.gamma.ListActiveMarkets(ctx, a.maxMarkets, a.tz)
	if err != nil {
		return nil, fmt.Errorf("feed: polymarket discover: %w", err)
	}
	return markets, nil
}

// Connect implements venue.Adapter.
func (a *PolymarketAdapter) Connect(ctx context.Context) error {
	ws := polymarket.NewWSClient(a.wsURL)
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.ws = ws
	a.books = make(map[string]*polymarket.TokenBook)
	a.subscribed = make(map[string]bool)
	a.mu.Unlock()
	return nil
}

// Subscribe implements venue.Adapter. Tokens already subscribed on this
// connection are not sent again.
func (a *PolymarketAdapter) Subscribe(ctx context.Context, markets []domain.Market) error {
	a.mu.Lock()
	ws := a.ws
	if ws == nil {
		a.mu.Unlock()
		return fmt.Errorf("feed: polymarket: %w", domain.ErrNotConnected)
	}
	a.tokens = make(map[string]domain.MarketKey, 2*len(markets))
	a.pairs = make(map[domain.MarketKey][2]string, len(markets))
	var fresh []string
	for _, m := range markets {
		a.pairs[m.Key] = [2]string{m.TokenFor(domain.OutcomeYes), m.TokenFor(domain.OutcomeNo)}
		for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
			id := m.TokenFor(o)
			if id == "" {
				continue
			}
			a.tokens[id] = m.Key
			if !a.subscribed[id] {
				fresh = append(fresh, id)
			}
		}
	}
	a.mu.Unlock()

	if err := ws.Subscribe(ctx, fresh); err != nil {
		return err
	}
	a.mu.Lock()
	for _, id := range fresh {
		a.subscribed[id] = true
	}
	a.mu.Unlock()
	return nil
}

// Stream implements venue.Adapter.
func (a *PolymarketAdapter) Stream(ctx context.Context, sink chan<- venue.Event) error {
	a.mu.Lock()
	ws := a.ws
	a.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("feed: polymarket: %w", domain.ErrNotConnected)
	}

	emit := func(snaps []domain.OrderbookSnapshot) {
		for _, s := range snaps {
			_ = venue.Emit(ctx, sink, venue.Event{Kind: venue.EventBook, Venue: domain.VenuePolymarket, Book: s})
		}
	}
	ws.OnBook(func(b polymarket.BookMessage) {
		emit(a.applyBook(b))
	})
	ws.OnPriceChange(func(p polymarket.PriceChangeMessage) {
		emit(a.applyChanges(p.All()))
	})
	return ws.Run(ctx)
}

func (a *PolymarketAdapter) applyBook(b polymarket.BookMessage) []domain.OrderbookSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	market, ok := a.tokens[b.AssetID]
	if !ok {
		return nil
	}
	tb := polymarket.NewTokenBook()
	tb.ApplyBook(b)
	a.books[b.AssetID] = tb
	return a.snapshotLocked(market, nil)
}

func (a *PolymarketAdapter) applyChanges(changes []polymarket.PriceChange) []domain.OrderbookSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	touched := make(map[domain.MarketKey]bool)
	var order []domain.MarketKey
	for _, c := range changes {
		market, ok := a.tokens[c.AssetID]
		if !ok {
			continue
		}
		tb, ok := a.books[c.AssetID]
		if !ok {
			continue // no snapshot yet
		}
		tb.ApplyChange(c)
		if !touched[market] {
			touched[market] = true
			order = append(order, market)
		}
	}
	var out []domain.OrderbookSnapshot
	for _, k := range order {
		out = a.snapshotLocked(k, out)
	}
	return out
}

// snapshotLocked appends the market's snapshot to out when both outcome
// books are present. Caller must hold a.mu.
func (a *PolymarketAdapter) snapshotLocked(k domain.MarketKey, out []domain.OrderbookSnapshot) []domain.OrderbookSnapshot {
	ids := a.pairs[k]
	yes, no := a.books[ids[0]], a.books[ids[1]]
	if yes == nil || no == nil {
		return out
	}
	return append(out, domain.OrderbookSnapshot{
		Market:    k,
		Yes:       yes.Quote(),
		No:        no.Quote(),
		Sequence:  a.seq.Next(k.ID),
		Timestamp: a.now(),
	})
}

// Disconnect implements venue.Adapter.
func (a *PolymarketAdapter) Disconnect() error {
	a.mu.Lock()
	ws := a.ws
	a.ws = nil
	a.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close()
}
