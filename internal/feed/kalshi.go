package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/platform/kalshi"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

// errSequenceGap ends a Kalshi session whose message numbering skipped, since
// the local books can no longer be trusted until a fresh snapshot.
var errSequenceGap = errors.New("kalshi sequence gap")

// KalshiAdapter streams Kalshi order books over the authenticated WebSocket.
// Sequence numbers are the venue's own, offset by a per-connection epoch so
// they stay monotonic across reconnects.
type KalshiAdapter struct {
	client     *kalshi.Client
	auth       kalshi.Authenticator
	wsURL      string
	maxMarkets int
	tz         string
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	ws         *kalshi.WSClient
	epoch      uint64
	books      map[string]*kalshi.Book
	lastSeq    map[int64]uint64 // sid -> seq
	subscribed map[string]bool
	wanted     map[string]bool
	gapErr     error
}

// NewKalshiAdapter creates the Kalshi adapter.
func NewKalshiAdapter(client *kalshi.Client, auth kalshi.Authenticator, wsURL string, maxMarkets int, tz string, logger *slog.Logger) *KalshiAdapter {
	return &KalshiAdapter{
		client:     client,
		auth:       auth,
		wsURL:      wsURL,
		maxMarkets: maxMarkets,
		tz:         tz,
		logger:     logger.With(slog.String("component", "kalshi_adapter")),
		now:        time.Now,
	}
}

// Venue implements venue.Adapter.
func (a *KalshiAdapter) Venue() domain.VenueID { return domain.VenueKalshi }

// Capabilities implements venue.Adapter.
func (a *KalshiAdapter) Capabilities() domain.Capabilities {
	_, token := a.auth.(*kalshi.TokenAuth)
	return domain.Capabilities{Streaming: true, VenueSequence: true, TokenRefresh: token}
}

// Discover implements venue.Adapter.
func (a *KalshiAdapter) Discover(ctx context.Context) ([]domain.Market, error) {
	raw, err := a.client.ListOpenMarkets(ctx, a.maxMarkets)
	if err != nil {
		return nil, fmt.Errorf("feed: kalshi discover: %w", err)
	}
	out := make([]domain.Market, 0, len(raw))
	for i := range raw {
		if m := raw[i].ToDomainMarket(a.tz); m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

// Connect implements venue.Adapter.
func (a *KalshiAdapter) Connect(ctx context.Context) error {
	ws := kalshi.NewWSClient(a.wsURL, a.auth)
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.ws = ws
	a.epoch++
	a.books = make(map[string]*kalshi.Book)
	a.lastSeq = make(map[int64]uint64)
	a.subscribed = make(map[string]bool)
	a.gapErr = nil
	a.mu.Unlock()
	return nil
}

// Subscribe implements venue.Adapter. Kalshi subscriptions are additive, so
// only new tickers are sent; dropped tickers are filtered locally.
func (a *KalshiAdapter) Subscribe(ctx context.Context, markets []domain.Market) error {
	a.mu.Lock()
	ws := a.ws
	if ws == nil {
		a.mu.Unlock()
		return fmt.Errorf("feed: kalshi: %w", domain.ErrNotConnected)
	}
	a.wanted = make(map[string]bool, len(markets))
	var fresh []string
	for _, m := range markets {
		a.wanted[m.Key.ID] = true
		if !a.subscribed[m.Key.ID] {
			fresh = append(fresh, m.Key.ID)
		}
	}
	a.mu.Unlock()

	if err := ws.Subscribe(ctx, fresh); err != nil {
		return err
	}
	a.mu.Lock()
	for _, t := range fresh {
		a.subscribed[t] = true
	}
	a.mu.Unlock()
	return nil
}

// Stream implements venue.Adapter.
func (a *KalshiAdapter) Stream(ctx context.Context, sink chan<- venue.Event) error {
	a.mu.Lock()
	ws := a.ws
	a.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("feed: kalshi: %w", domain.ErrNotConnected)
	}

	err := ws.Run(ctx, func(msg kalshi.KalshiWSMessage) {
		snap, ok, herr := a.handle(msg)
		if herr != nil {
			a.mu.Lock()
			a.gapErr = herr
			a.mu.Unlock()
			_ = ws.Close()
			return
		}
		if ok {
			_ = venue.Emit(ctx, sink, venue.Event{Kind: venue.EventBook, Venue: domain.VenueKalshi, Book: snap})
		}
	})

	a.mu.Lock()
	gap := a.gapErr
	a.mu.Unlock()
	if gap != nil && ctx.Err() == nil {
		return fmt.Errorf("feed: kalshi: %w", gap)
	}
	return err
}

// handle applies one message to the local books and returns the resulting
// snapshot when a wanted market changed.
func (a *KalshiAdapter) handle(msg kalshi.KalshiWSMessage) (domain.OrderbookSnapshot, bool, error) {
	switch msg.Type {
	case "orderbook_snapshot", "orderbook_delta":
	case "error":
		var e kalshi.KalshiWSError
		_ = json.Unmarshal(msg.Msg, &e)
		a.logger.Warn("kalshi ws error", slog.Int("code", e.Code), slog.String("msg", e.Msg))
		return domain.OrderbookSnapshot{}, false, nil
	default:
		return domain.OrderbookSnapshot{}, false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if last, ok := a.lastSeq[msg.SID]; ok && msg.Seq != last+1 {
		return domain.OrderbookSnapshot{}, false, fmt.Errorf("%w: sid %d got %d after %d", errSequenceGap, msg.SID, msg.Seq, last)
	}
	a.lastSeq[msg.SID] = msg.Seq

	var ticker string
	if msg.Type == "orderbook_snapshot" {
		var s kalshi.KalshiWSSnapshot
		if err := json.Unmarshal(msg.Msg, &s); err != nil {
			return domain.OrderbookSnapshot{}, false, nil
		}
		ticker = s.MarketTicker
		b := kalshi.NewBook(ticker)
		b.ApplySnapshot(s)
		a.books[ticker] = b
	} else {
		var d kalshi.KalshiWSDelta
		if err := json.Unmarshal(msg.Msg, &d); err != nil {
			return domain.OrderbookSnapshot{}, false, nil
		}
		ticker = d.MarketTicker
		b, ok := a.books[ticker]
		if !ok {
			return domain.OrderbookSnapshot{}, false, nil
		}
		b.ApplyDelta(d)
	}

	if !a.wanted[ticker] {
		return domain.OrderbookSnapshot{}, false, nil
	}
	return a.books[ticker].Snapshot(a.epoch<<32|msg.Seq, a.now()), true, nil
}

// Disconnect implements venue.Adapter.
func (a *KalshiAdapter) Disconnect() error {
	a.mu.Lock()
	ws := a.ws
	a.ws = nil
	a.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close()
}
