package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Quote is the top of book and optional depth for one outcome. A zero price
// means the side is empty.
type Quote struct {
	BestBid decimal.Decimal `json:"best_bid"`
	BestAsk decimal.Decimal `json:"best_ask"`
	Bids    []PriceLevel    `json:"bids,omitempty"` // best first
	Asks    []PriceLevel    `json:"asks,omitempty"` // best first
}

// HasAsk reports whether the outcome can be bought.
func (q Quote) HasAsk() bool {
	return q.BestAsk.IsPositive()
}

// Mid returns the midpoint, or the ask alone when no bid is present.
func (q Quote) Mid() decimal.Decimal {
	if !q.BestBid.IsPositive() {
		return q.BestAsk
	}
	return q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
}

// OrderbookSnapshot is the normalized two-outcome book for one market.
type OrderbookSnapshot struct {
	Market    MarketKey `json:"market"`
	Yes       Quote     `json:"yes"`
	No        Quote     `json:"no"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"` // capture time
}

// Quote returns the quote for the given outcome.
func (s OrderbookSnapshot) Quote(o Outcome) Quote {
	if o == OutcomeYes {
		return s.Yes
	}
	return s.No
}

// Age returns how old the snapshot is relative to now.
func (s OrderbookSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
