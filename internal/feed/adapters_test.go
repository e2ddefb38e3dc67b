package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/platform/kalshi"
	"github.com/alanyoungcy/crossarb/internal/platform/opinion"
	"github.com/alanyoungcy/crossarb/internal/platform/polymarket"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func kalshiMsg(t *testing.T, typ string, sid int64, seq uint64, body any) kalshi.KalshiWSMessage {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return kalshi.KalshiWSMessage{Type: typ, SID: sid, Seq: seq, Msg: raw}
}

func newKalshiForTest(epoch uint64, wanted ...string) *KalshiAdapter {
	a := NewKalshiAdapter(nil, nil, "", 0, "", discardLogger())
	a.now = func() time.Time { return fixedNow }
	a.epoch = epoch
	a.books = make(map[string]*kalshi.Book)
	a.lastSeq = make(map[int64]uint64)
	a.wanted = make(map[string]bool)
	for _, w := range wanted {
		a.wanted[w] = true
	}
	return a
}

func TestKalshiAdapter_SnapshotThenDelta(t *testing.T) {
	a := newKalshiForTest(2, "FED-25DEC")

	snap, ok, err := a.handle(kalshiMsg(t, "orderbook_snapshot", 7, 1, kalshi.KalshiWSSnapshot{
		MarketTicker: "FED-25DEC",
		Yes:          [][2]int64{{40, 10}},
		No:           [][2]int64{{55, 5}},
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2)<<32|1, snap.Sequence)
	assert.True(t, snap.Yes.BestAsk.Equal(decimal.RequireFromString("0.45")))
	assert.True(t, snap.No.BestAsk.Equal(decimal.RequireFromString("0.60")))
	assert.Equal(t, fixedNow, snap.Timestamp)

	snap, ok, err = a.handle(kalshiMsg(t, "orderbook_delta", 7, 2, kalshi.KalshiWSDelta{
		MarketTicker: "FED-25DEC", Price: 58, Delta: 3, Side: "no",
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.Yes.BestAsk.Equal(decimal.RequireFromString("0.42")))
	assert.Greater(t, snap.Sequence, uint64(2)<<32|1)
}

func TestKalshiAdapter_SequenceGap(t *testing.T) {
	a := newKalshiForTest(1, "T")
	_, _, err := a.handle(kalshiMsg(t, "orderbook_snapshot", 1, 10, kalshi.KalshiWSSnapshot{MarketTicker: "T"}))
	require.NoError(t, err)

	_, _, err = a.handle(kalshiMsg(t, "orderbook_delta", 1, 12, kalshi.KalshiWSDelta{MarketTicker: "T", Price: 50, Delta: 1, Side: "yes"}))
	assert.ErrorIs(t, err, errSequenceGap)
}

func TestKalshiAdapter_UnwantedAndUnknown(t *testing.T) {
	a := newKalshiForTest(1, "WANTED")

	_, ok, err := a.handle(kalshiMsg(t, "orderbook_snapshot", 1, 1, kalshi.KalshiWSSnapshot{MarketTicker: "DROPPED"}))
	require.NoError(t, err)
	assert.False(t, ok, "tickers no longer wanted are filtered")

	_, ok, err = a.handle(kalshiMsg(t, "orderbook_delta", 2, 1, kalshi.KalshiWSDelta{MarketTicker: "WANTED", Price: 50, Delta: 1, Side: "yes"}))
	require.NoError(t, err)
	assert.False(t, ok, "delta before snapshot is ignored")

	_, ok, err = a.handle(kalshiMsg(t, "subscribed", 0, 0, map[string]any{"sid": 1}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKalshiAdapter_NotConnected(t *testing.T) {
	a := NewKalshiAdapter(nil, nil, "", 0, "", discardLogger())
	err := a.Subscribe(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.NoError(t, a.Disconnect())
	assert.False(t, a.Capabilities().TokenRefresh)
}

func newPolymarketForTest() *PolymarketAdapter {
	a := NewPolymarketAdapter(nil, "", 0, "", discardLogger())
	a.now = func() time.Time { return fixedNow }
	k := domain.MarketKey{Venue: domain.VenuePolymarket, ID: "0xabc"}
	a.tokens = map[string]domain.MarketKey{"yes-tok": k, "no-tok": k}
	a.pairs = map[domain.MarketKey][2]string{k: {"yes-tok", "no-tok"}}
	a.books = make(map[string]*polymarket.TokenBook)
	return a
}

func TestPolymarketAdapter_EmitsOnceBothSidesKnown(t *testing.T) {
	a := newPolymarketForTest()

	out := a.applyBook(polymarket.BookMessage{
		EventType: "book", AssetID: "yes-tok",
		Asks: []polymarket.WSPriceLevel{{Price: "0.61", Size: "100"}},
	})
	assert.Empty(t, out, "no snapshot until the NO book arrives")

	out = a.applyBook(polymarket.BookMessage{
		EventType: "book", AssetID: "no-tok",
		Bids: []polymarket.WSPriceLevel{{Price: "0.36", Size: "40"}},
		Asks: []polymarket.WSPriceLevel{{Price: "0.38", Size: "50"}},
	})
	require.Len(t, out, 1)
	assert.Equal(t, uint64(1), out[0].Sequence)
	assert.True(t, out[0].Yes.BestAsk.Equal(decimal.RequireFromString("0.61")))
	assert.True(t, out[0].No.BestAsk.Equal(decimal.RequireFromString("0.38")))

	out = a.applyChanges([]polymarket.PriceChange{
		{AssetID: "yes-tok", Side: "SELL", Price: "0.60", Size: "20"},
		{AssetID: "no-tok", Side: "BUY", Price: "0.37", Size: "10"},
		{AssetID: "stranger", Side: "SELL", Price: "0.10", Size: "1"},
	})
	require.Len(t, out, 1, "changes to one market coalesce into one snapshot")
	assert.Equal(t, uint64(2), out[0].Sequence)
	assert.True(t, out[0].Yes.BestAsk.Equal(decimal.RequireFromString("0.60")))
	assert.True(t, out[0].No.BestBid.Equal(decimal.RequireFromString("0.37")))
}

func TestPolymarketAdapter_ChangeBeforeBookIgnored(t *testing.T) {
	a := newPolymarketForTest()
	out := a.applyChanges([]polymarket.PriceChange{{AssetID: "yes-tok", Side: "SELL", Price: "0.5", Size: "1"}})
	assert.Empty(t, out)
}

type opinionServer struct {
	books     atomic.Int32
	failBooks atomic.Bool
}

func (s *opinionServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/markets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `{"errno":0,"result":{"list":[]}}`)
			return
		}
		fmt.Fprint(w, `{"errno":0,"result":{"total":1,"list":[
			{"market_id":"42","title":"Will BTC close above $100k?","end_at":1798675200,
			 "token_yes_id":"y42","token_no_id":"n42","status":"active","resolution_source":"CoinGecko"}]}}`)
	})
	mux.HandleFunc("/orderbook/", func(w http.ResponseWriter, r *http.Request) {
		if s.failBooks.Load() {
			http.NotFound(w, r)
			return
		}
		s.books.Add(1)
		fmt.Fprint(w, `{"errno":0,"result":{"data":{"market_id":"42",
			"bids":[{"price":"0.30","size":"10"}],"asks":[{"price":"0.33","size":"10"}]}}}`)
	})
	mux.HandleFunc("/fees/y42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errno":0,"result":{"data":{"maker_fee":"0.001","taker_fee":"0.02"}}}`)
	})
	return mux
}

func TestOpinionAdapter_PollsBooksAndFees(t *testing.T) {
	state := &opinionServer{}
	srv := httptest.NewServer(state.handler())
	defer srv.Close()

	client := opinion.NewClient(srv.URL, "", 1000, discardLogger())
	base := domain.FeeSchedule{FixedPerOrder: decimal.RequireFromString("0.01")}
	a := NewOpinionAdapter(client, 5*time.Millisecond, 10, "UTC", base, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := a.FeeSchedule(ctx)
	assert.ErrorIs(t, err, domain.ErrUnknownFee, "no market known before discovery")

	markets, err := a.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 1)

	require.ErrorIs(t, a.Subscribe(ctx, markets), domain.ErrNotConnected)
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Subscribe(ctx, markets))

	sink := make(chan venue.Event, 16)
	done := make(chan error, 1)
	go func() { done <- a.Stream(ctx, sink) }()

	var seqs []uint64
	for len(seqs) < 2 {
		select {
		case ev := <-sink:
			if ev.Kind != venue.EventBook {
				continue
			}
			assert.Equal(t, domain.VenueOpinion, ev.Venue)
			assert.True(t, ev.Book.Yes.BestAsk.Equal(decimal.RequireFromString("0.33")))
			seqs = append(seqs, ev.Book.Sequence)
		case <-time.After(2 * time.Second):
			t.Fatal("no book polled")
		}
	}
	assert.Less(t, seqs[0], seqs[1])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	s, err := a.FeeSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.VenueOpinion, s.Venue)
	assert.True(t, s.TakerRate.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, s.MakerRate.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, s.FixedPerOrder.Equal(decimal.RequireFromString("0.01")), "base fields are kept")
}

func TestOpinionAdapter_AllBooksFailingEndsStream(t *testing.T) {
	state := &opinionServer{}
	state.failBooks.Store(true)
	srv := httptest.NewServer(state.handler())
	defer srv.Close()

	a := NewOpinionAdapter(opinion.NewClient(srv.URL, "", 1000, discardLogger()), time.Millisecond, 10, "UTC", domain.FeeSchedule{}, discardLogger())
	ctx := context.Background()
	markets, err := a.Discover(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Subscribe(ctx, markets))

	err = a.Stream(ctx, make(chan venue.Event, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type recordingStore struct {
	mu    sync.Mutex
	snaps []domain.OrderbookSnapshot
	err   error
}

func (r *recordingStore) Update(s domain.OrderbookSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.snaps = append(r.snaps, s)
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]domain.Market
}

func (r *recordingSink) Upsert(_ context.Context, m []domain.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, m)
	return nil
}

func TestFeeder_RoutesEvents(t *testing.T) {
	events := make(chan venue.Event, 8)
	store := &recordingStore{}
	sink := &recordingSink{}
	f := NewFeeder(events, store, sink, discardLogger())

	k := domain.MarketKey{Venue: domain.VenueKalshi, ID: "T"}
	events <- venue.Event{Kind: venue.EventBook, Venue: domain.VenueKalshi, Book: domain.OrderbookSnapshot{Market: k, Sequence: 1}}
	events <- venue.Event{Kind: venue.EventMarket, Venue: domain.VenueKalshi, Markets: []domain.Market{{Key: k}}}
	close(events)

	require.NoError(t, f.Run(context.Background()))
	assert.Len(t, store.snaps, 1)
	assert.Len(t, sink.batches, 1)
	assert.Equal(t, FeederStats{Books: 1, Metadata: 1}, f.Stats())
}

func TestFeeder_CountsStaleSequences(t *testing.T) {
	events := make(chan venue.Event, 2)
	store := &recordingStore{err: fmt.Errorf("orderbook: %w", domain.ErrStaleSequence)}
	f := NewFeeder(events, store, &recordingSink{}, discardLogger())

	events <- venue.Event{Kind: venue.EventBook, Book: domain.OrderbookSnapshot{Sequence: 1}}
	close(events)
	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, uint64(1), f.Stats().Stale)
	assert.Zero(t, f.Stats().Books)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewFeeder(make(chan venue.Event), store, &recordingSink{}, discardLogger()).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
