package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/fees"
	"github.com/alanyoungcy/crossarb/internal/hedge"
	"github.com/alanyoungcy/crossarb/internal/matcher"
	"github.com/alanyoungcy/crossarb/internal/monitor"
	"github.com/alanyoungcy/crossarb/internal/orderbook"
	"github.com/alanyoungcy/crossarb/internal/server"
	"github.com/alanyoungcy/crossarb/internal/server/handler"
	"github.com/alanyoungcy/crossarb/internal/server/ws"
	"github.com/alanyoungcy/crossarb/internal/session"
)

const apiKey = "test-key"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type venues struct{ statuses []domain.VenueStatus }

func (v venues) Statuses() []domain.VenueStatus { return v.statuses }

func (v venues) Usable(id domain.VenueID) bool {
	for _, st := range v.statuses {
		if st.ID == id {
			return st.State.Usable()
		}
	}
	return false
}

type staticMatches struct{ set *matcher.Set }

func (s staticMatches) Current() *matcher.Set { return s.set }

type harness struct {
	srv      *httptest.Server
	sessions *session.Manager
	books    *orderbook.Cache
	cancel   context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	vs := venues{statuses: []domain.VenueStatus{
		{ID: domain.VenueKalshi, State: domain.VenueLive},
		{ID: domain.VenuePolymarket, State: domain.VenueLive},
		{ID: domain.VenueOpinion, State: domain.VenueDisconnected},
	}}

	mgr := session.NewManager(8, vs, logger)
	books := orderbook.New(5 * time.Second)
	reg := fees.NewRegistry(decimal.NewFromInt(1),
		domain.FeeSchedule{Venue: domain.VenueKalshi, TakerRate: d("0.007")},
		domain.FeeSchedule{Venue: domain.VenuePolymarket},
	)
	mon := monitor.New(monitor.DefaultConfig(), monitor.NewLocalLimiter(), logger)

	catalog := matcher.NewCatalog()
	catalog.Upsert([]domain.Market{
		{Key: domain.MarketKey{Venue: domain.VenueKalshi, ID: "K1"}, Question: "Will it rain?"},
		{Key: domain.MarketKey{Venue: domain.VenuePolymarket, ID: "P1"}, Question: "Rain tomorrow?"},
	})
	set := matcher.NewSet([]domain.MatchCandidate{
		{ID: "hi", A: domain.MarketKey{Venue: domain.VenueKalshi, ID: "K1"}, B: domain.MarketKey{Venue: domain.VenuePolymarket, ID: "P1"}, Composite: 0.9, Confidence: 0.9, Accepted: true},
		{ID: "lo", A: domain.MarketKey{Venue: domain.VenueKalshi, ID: "K2"}, B: domain.MarketKey{Venue: domain.VenueOpinion, ID: "O2"}, Composite: 0.72, Confidence: 0.6, Accepted: true},
	}, time.Now())

	defaults := domain.SessionConfig{
		MinROI:      d("1"),
		MaxPosition: d("100"),
		Venues:      []domain.VenueID{domain.VenueKalshi, domain.VenuePolymarket},
	}
	hub := ws.NewHub(ws.SessionsFunc(func(tenant string) (ws.Stream, bool) {
		s, ok := mgr.Session(tenant)
		if !ok || s.State() != domain.SessionRunning {
			return nil, false
		}
		return s, true
	}), nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	h := server.Routes(server.Config{APIKey: apiKey, CORSOrigins: []string{"https://ui.example"}}, server.Handlers{
		Health:   handler.NewHealthHandler(vs, logger),
		Status:   handler.NewStatusHandler("full", map[string]func() any{"cache": func() any { return books.Stats() }}),
		Sessions: handler.NewSessionHandler(mgr, defaults, logger),
		Matches:  handler.NewMatchHandler(staticMatches{set}, catalog.Get),
		Hedge:    handler.NewHedgeHandler(hedge.NewCalculator(reg, d("5")), books, mon, logger),
	}, hub, monitor.NewLocalLimiter(), logger)

	hs := &harness{srv: httptest.NewServer(h), sessions: mgr, books: books, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		hs.srv.Close()
		mgr.Close()
	})
	return hs
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", apiKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp, err = http.Get(h.srv.URL + "/api/venues")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/venues", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndVenues(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["usable_venues"])

	code, body = h.do(t, http.MethodGet, "/api/venues", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["venues"], 3)

	code, body = h.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "full", body["mode"])
	assert.Contains(t, body, "cache")
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/api/sessions/acme", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopped", body["state"])

	code, body = h.do(t, http.MethodPost, "/api/sessions/acme/start", `{"min_roi": 2.5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["state"])
	cfg := body["config"].(map[string]any)
	assert.Equal(t, "2.5", cfg["min_roi"])
	assert.Equal(t, "100", cfg["max_position"], "default kept")

	code, _ = h.do(t, http.MethodPost, "/api/sessions/acme/start", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = h.do(t, http.MethodPost, "/api/sessions/acme/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopped", body["state"])

	code, _ = h.do(t, http.MethodPost, "/api/sessions/acme/stop", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestSessionStartErrors(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/sessions/bad/start", `{"max_position": "-5"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	sess := body["session"].(map[string]any)
	assert.Equal(t, "error", sess["state"])
	assert.Contains(t, sess["cause"], "max_position")

	code, body = h.do(t, http.MethodPost, "/api/sessions/bad/start", `{}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "error", body["session"].(map[string]any)["state"])

	code, _ = h.do(t, http.MethodPost, "/api/sessions/down/start", `{"venues": ["opinion"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	_, body = h.do(t, http.MethodGet, "/api/sessions/down", "")
	assert.Equal(t, "no enabled venue reachable", body["cause"])

	code, _ = h.do(t, http.MethodPost, "/api/sessions/x/start", `{"bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	_, body = h.do(t, http.MethodGet, "/api/sessions", "")
	assert.Len(t, body["sessions"], 2)
}

func TestMatches(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(t, http.MethodGet, "/api/matches", "")
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, body["matches"], 2)

	_, body = h.do(t, http.MethodGet, "/api/matches?min_confidence=0.8", "")
	ms := body["matches"].([]any)
	require.Len(t, ms, 1)
	first := ms[0].(map[string]any)
	assert.Equal(t, "hi", first["id"])
	assert.Equal(t, "Will it rain?", first["question_a"])

	_, body = h.do(t, http.MethodGet, "/api/matches?venue=opinion", "")
	assert.Len(t, body["matches"], 1)
}

func TestHedge(t *testing.T) {
	h := newHarness(t)
	kalshi := domain.MarketKey{Venue: domain.VenueKalshi, ID: "K1"}
	require.NoError(t, h.books.Update(domain.OrderbookSnapshot{
		Market:    kalshi,
		No:        domain.Quote{BestAsk: d("0.38"), Asks: []domain.PriceLevel{{Price: d("0.38"), Size: d("100")}}},
		Sequence:  1,
		Timestamp: time.Now(),
	}))

	body := `{
	  "filled": {"leg": {"venue": "polymarket", "market": {"venue": "polymarket", "id": "P1"}, "outcome": "YES", "side": "buy", "price": "0.60"},
	             "requested": "100", "filled": "100", "avg_price": "0.60"},
	  "complement": {"leg": {"venue": "kalshi", "market": {"venue": "kalshi", "id": "K1"}, "outcome": "NO", "side": "buy", "price": "0.38"},
	             "requested": "100", "filled": "40", "avg_price": "0.38"}
	}`
	code, out := h.do(t, http.MethodPost, "/api/hedge", body)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, true, out["book_found"])
	assert.Equal(t, false, out["book_stale"])
	assert.EqualValues(t, 1, out["alerts"], "40% fill raises a partial-fill alert")

	plan := out["plan"].(map[string]any)
	ins := plan["instructions"].([]any)
	require.Len(t, ins, 1)
	first := ins[0].(map[string]any)
	assert.Equal(t, "buy", first["side"])
	assert.Equal(t, "60", first["size"])
	assert.Equal(t, "0.38", first["limit_price"])
	assert.Equal(t, "22.9596", first["estimated_cost"])

	code, _ = h.do(t, http.MethodPost, "/api/hedge", `{"filled": {}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req, _ := http.NewRequest(http.MethodOptions, h.srv.URL+"/api/sessions/acme/start", nil)
	req.Header.Set("Origin", "https://ui.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://ui.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/sessions/acme/stream?api_key=" + apiKey

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err, "no running session")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	code, _ := h.do(t, http.MethodPost, "/api/sessions/acme/start", "")
	require.Equal(t, http.StatusOK, code)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err, "one reader per tenant")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	opp := domain.Opportunity{
		ID:        "opp-1",
		Legs:      [2]domain.Leg{{Venue: domain.VenuePolymarket}, {Venue: domain.VenueKalshi}},
		Size:      d("100"),
		TotalCost: d("0.98266"),
		NetProfit: d("0.01734"),
		ROI:       d("1.7646"),
		Valid:     true,
	}
	h.sessions.Dispatch(domain.SessionItem{Type: "opportunity", Opportunity: &opp})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var item domain.SessionItem
	require.NoError(t, conn.ReadJSON(&item))
	assert.Equal(t, "opportunity", item.Type)
	require.NotNil(t, item.Opportunity)
	assert.Equal(t, "opp-1", item.Opportunity.ID)
	assert.True(t, item.SuggestedSize.Equal(d("100")))

	code, _ = h.do(t, http.MethodPost, "/api/sessions/acme/stop", "")
	require.Equal(t, http.StatusOK, code)

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
}
