package opinion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func newTestClient(url string) *Client {
	c := NewClient(url, "secret", 1000, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retryWait = time.Millisecond
	return c
}

func TestClient_OrderbookAndFees(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orderbook/tok-yes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"errno":0,"errmsg":"","result":{"data":{"market_id":"m1",
			"bids":[{"price":"0.41","size":"100"},{"price":0.44,"size":5}],
			"asks":[{"price":"0.47","size":"30"},{"price":"0.46","size":"0"},{"price":"0.45","size":"12"}]}}}`)
	})
	mux.HandleFunc("/fees/tok-yes", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errno":0,"result":{"data":{"maker_fee":"0","taker_fee":"0.02"}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	ob, err := c.Orderbook(ctx, "tok-yes")
	require.NoError(t, err)
	q := ob.Quote()
	assert.True(t, q.BestBid.Equal(decimal.RequireFromString("0.44")))
	assert.True(t, q.BestAsk.Equal(decimal.RequireFromString("0.45")))
	assert.Len(t, q.Asks, 2, "empty levels are dropped")

	fees, err := c.FeeRates(ctx, "tok-yes")
	require.NoError(t, err)
	assert.True(t, fees.TakerFee.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, fees.MakerFee.IsZero())
}

func TestClient_ListActiveMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `{"errno":0,"result":{"list":[]}}`)
			return
		}
		fmt.Fprint(w, `{"errno":0,"result":{"total":3,"list":[
			{"market_id":"1","title":"Will ETH hit $5k?","end_at":1798675200,"token_yes_id":"y1","token_no_id":"n1","status":"active"},
			{"market_id":"2","title":"Closed","token_yes_id":"y2","token_no_id":"n2","status":"resolved"},
			{"market_id":"3","title":"No tokens","status":"active"}]}}`)
	}))
	defer srv.Close()

	markets, err := newTestClient(srv.URL).ListActiveMarkets(context.Background(), 10, "Asia/Singapore")
	require.NoError(t, err)
	require.Len(t, markets, 1)
	m := markets[0]
	assert.Equal(t, domain.MarketKey{Venue: domain.VenueOpinion, ID: "1"}, m.Key)
	assert.Equal(t, time.Unix(1798675200, 0).UTC(), m.Expiry)
	assert.Equal(t, "y1", m.TokenFor(domain.OutcomeYes))
	assert.Equal(t, "Asia/Singapore", m.Timezone)
}

func TestClient_RetriesThrottlingAndServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, `{"errno":0,"result":{"data":{"taker_fee":0.01}}}`)
		}
	}))
	defer srv.Close()

	fees, err := newTestClient(srv.URL).FeeRates(context.Background(), "t")
	require.NoError(t, err)
	assert.True(t, fees.TakerFee.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Errors(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"errno":10403,"errmsg":"market halted"}`)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)
	ctx := context.Background()

	_, err := c.Orderbook(ctx, "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market halted")

	status = http.StatusNotFound
	_, err = c.Orderbook(ctx, "t")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	status = http.StatusTooManyRequests
	_, err = c.Orderbook(ctx, "t")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
