package polymarket

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID               string   `json:"id"`
	Question         string   `json:"question"`
	ConditionID      string   `json:"conditionId"`
	Slug             string   `json:"slug"`
	Active           flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed           flexBool `json:"closed"`
	Outcomes         string   `json:"outcomes"`     // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs     string   `json:"clobTokenIds"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	EndDate          string   `json:"endDate"`
	EndDateISO       string   `json:"end_date_iso"`
	Description      string   `json:"description"`
	ResolutionSource string   `json:"resolutionSource"`
	UpdatedAt        string   `json:"updatedAt"`
}

// tokenIDs returns the YES and NO CLOB token ids. Outcomes are ordered the
// same way as the token list; a market whose outcomes are not Yes/No keeps
// the listed order.
func (m *APIMarket) tokenIDs() ([2]string, bool) {
	var ids, outcomes []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil || len(ids) != 2 {
		return [2]string{}, false
	}
	_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)
	if len(outcomes) == 2 && strings.EqualFold(outcomes[0], "no") && strings.EqualFold(outcomes[1], "yes") {
		return [2]string{ids[1], ids[0]}, true
	}
	return [2]string{ids[0], ids[1]}, true
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. ok is false
// for markets that are not binary or have no CLOB tokens.
func (m *APIMarket) ToDomainMarket(tz string) (domain.Market, bool) {
	tokens, ok := m.tokenIDs()
	if !ok {
		return domain.Market{}, false
	}
	dm := domain.Market{
		Key:              domain.MarketKey{Venue: domain.VenuePolymarket, ID: m.ConditionID},
		Question:         m.Question,
		ResolutionSource: m.ResolutionSource,
		Timezone:         tz,
		OutcomeTokens:    tokens,
		Active:           bool(m.Active) && !bool(m.Closed),
		UpdatedAt:        time.Now().UTC(),
	}
	if dm.Key.ID == "" {
		dm.Key.ID = m.ID
	}
	for _, raw := range []string{m.EndDate, m.EndDateISO} {
		if t, ok := parseGammaTime(raw); ok {
			dm.Expiry = t
			break
		}
	}
	return dm, true
}

func parseGammaTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot for one asset.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChange is one level update. Size "0" removes the level.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"` // "BUY" or "SELL"
	Price   string `json:"price"`
	Size    string `json:"size"`
}

// PriceChangeMessage carries incremental updates. Older frames put a single
// change at the top level; newer ones batch them under price_changes.
type PriceChangeMessage struct {
	EventType string        `json:"event_type"`
	Market    string        `json:"market"`
	Changes   []PriceChange `json:"price_changes"`
	Timestamp string        `json:"timestamp"`

	PriceChange
}

// All returns every change the message carries.
func (p *PriceChangeMessage) All() []PriceChange {
	if len(p.Changes) > 0 {
		return p.Changes
	}
	if p.PriceChange.AssetID != "" {
		return []PriceChange{p.PriceChange}
	}
	return nil
}

// WSSubscribe is the market-channel subscription sent after connecting.
type WSSubscribe struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// --------------------------------------------------------------------------
// Local book
// --------------------------------------------------------------------------

// TokenBook holds the resting levels for one CLOB token.
type TokenBook struct {
	bids map[string]decimal.Decimal
	asks map[string]decimal.Decimal
}

// NewTokenBook returns an empty book.
func NewTokenBook() *TokenBook {
	return &TokenBook{bids: map[string]decimal.Decimal{}, asks: map[string]decimal.Decimal{}}
}

// ApplyBook replaces every level.
func (b *TokenBook) ApplyBook(m BookMessage) {
	b.bids = levelMap(m.Bids)
	b.asks = levelMap(m.Asks)
}

// ApplyChange sets or removes one level. Unparseable changes are ignored.
func (b *TokenBook) ApplyChange(c PriceChange) {
	price, err := decimal.NewFromString(c.Price)
	if err != nil {
		return
	}
	size, err := decimal.NewFromString(c.Size)
	if err != nil {
		return
	}
	side := b.bids
	if strings.EqualFold(c.Side, "SELL") {
		side = b.asks
	}
	key := price.String()
	if !size.IsPositive() {
		delete(side, key)
		return
	}
	side[key] = size
}

// Quote renders the book with best levels first.
func (b *TokenBook) Quote() domain.Quote {
	q := domain.Quote{
		Bids: sortedLevels(b.bids, true),
		Asks: sortedLevels(b.asks, false),
	}
	if len(q.Bids) > 0 {
		q.BestBid = q.Bids[0].Price
	}
	if len(q.Asks) > 0 {
		q.BestAsk = q.Asks[0].Price
	}
	return q
}

func levelMap(levels []WSPriceLevel) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(levels))
	for _, lvl := range levels {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		s, err := decimal.NewFromString(lvl.Size)
		if err != nil || !s.IsPositive() {
			continue
		}
		out[p.String()] = s
	}
	return out
}

func sortedLevels(side map[string]decimal.Decimal, desc bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(side))
	for p, s := range side {
		out = append(out, domain.PriceLevel{Price: decimal.RequireFromString(p), Size: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
