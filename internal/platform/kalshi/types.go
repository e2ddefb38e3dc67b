package kalshi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// KalshiMarket represents a market as returned by the Kalshi REST API.
type KalshiMarket struct {
	Ticker                 string `json:"ticker"`
	EventTicker            string `json:"event_ticker"`
	Title                  string `json:"title"`
	Subtitle               string `json:"subtitle"`
	YesSubTitle            string `json:"yes_sub_title"`
	Status                 string `json:"status"` // "active", "open", "closed", "settled"
	YesBid                 int64  `json:"yes_bid"`
	YesAsk                 int64  `json:"yes_ask"`
	NoBid                  int64  `json:"no_bid"`
	NoAsk                  int64  `json:"no_ask"`
	Volume24H              int64  `json:"volume_24h"`
	OpenInterest           int64  `json:"open_interest"`
	CloseTime              string `json:"close_time"`
	ExpirationTime         string `json:"expiration_time"`
	ExpectedExpirationTime string `json:"expected_expiration_time"`
	RulesPrimary           string `json:"rules_primary"`
	SettlementSource       string `json:"settlement_source,omitempty"`
}

// KalshiMarketsPage is one page of GET /markets.
type KalshiMarketsPage struct {
	Markets []KalshiMarket `json:"markets"`
	Cursor  string         `json:"cursor"`
}

// KalshiLoginRequest is the body of POST /login.
type KalshiLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// KalshiLoginResponse is the reply to POST /login.
type KalshiLoginResponse struct {
	MemberID string `json:"member_id"`
	Token    string `json:"token"`
}

// KalshiErrorResponse represents a Kalshi API error response. Newer endpoints
// nest the fields under "error".
type KalshiErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e KalshiErrorResponse) text() string {
	code, msg := e.Code, e.Message
	if e.Error != nil {
		code, msg = e.Error.Code, e.Error.Message
	}
	if code == "" && msg == "" {
		return "no details"
	}
	return msg + " (" + code + ")"
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// KalshiWSMessage is the envelope for Kalshi WebSocket messages. Seq is a
// per-subscription counter that increases by one with each message.
type KalshiWSMessage struct {
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", "subscribed", "error"
	SID  int64           `json:"sid"`
	Seq  uint64          `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

// KalshiWSSnapshot carries every resting bid for one market. Levels are
// [price_cents, quantity] pairs.
type KalshiWSSnapshot struct {
	MarketTicker string     `json:"market_ticker"`
	Yes          [][2]int64 `json:"yes"`
	No           [][2]int64 `json:"no"`
}

// KalshiWSDelta changes the quantity resting at one price level.
type KalshiWSDelta struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	Delta        int64  `json:"delta"`
	Side         string `json:"side"` // "yes" or "no"
}

// KalshiWSError is the payload of an "error" message.
type KalshiWSError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// KalshiWSSubscribeCmd is the command sent to subscribe to Kalshi WebSocket channels.
type KalshiWSSubscribeCmd struct {
	ID     int64                   `json:"id"`
	Cmd    string                  `json:"cmd"` // "subscribe" or "unsubscribe"
	Params KalshiWSSubscribeParams `json:"params"`
}

// KalshiWSSubscribeParams defines the subscription parameters.
type KalshiWSSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers,omitempty"`
	SIDs     []int64  `json:"sids,omitempty"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

// ToDomainMarket converts a Kalshi market into the venue-neutral form. Kalshi
// states expiries in tz.
func (m *KalshiMarket) ToDomainMarket(tz string) domain.Market {
	question := m.Title
	if m.YesSubTitle != "" && !strings.Contains(question, m.YesSubTitle) {
		question += " " + m.YesSubTitle
	}
	dm := domain.Market{
		Key:              domain.MarketKey{Venue: domain.VenueKalshi, ID: m.Ticker},
		Question:         question,
		ResolutionSource: m.SettlementSource,
		Timezone:         tz,
		OutcomeTokens:    [2]string{m.Ticker, m.Ticker},
		Active:           m.Status == "active" || m.Status == "open",
		UpdatedAt:        time.Now().UTC(),
	}
	for _, raw := range []string{m.ExpectedExpirationTime, m.CloseTime, m.ExpirationTime} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			dm.Expiry = t.UTC()
			break
		}
	}
	return dm
}
