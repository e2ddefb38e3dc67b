package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Leg is one purchase that, together with its complement, realizes an
// arbitrage. Prices and fees are per contract.
type Leg struct {
	Venue   VenueID         `json:"venue"`
	Market  MarketKey       `json:"market"`
	Outcome Outcome         `json:"outcome"`
	Side    string          `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Fee     decimal.Decimal `json:"fee"`
}

// Opportunity is a fee-adjusted cross-venue arbitrage. Cost fields are per
// contract at the Size basis; ROI is a percentage.
type Opportunity struct {
	ID         string          `json:"id"`
	MatchID    string          `json:"match_id"`
	Direction  string          `json:"direction"`
	Legs       [2]Leg          `json:"legs"`
	Size       decimal.Decimal `json:"size"`
	GrossCost  decimal.Decimal `json:"gross_cost"`
	Fees       decimal.Decimal `json:"fees"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	NetProfit  decimal.Decimal `json:"net_profit"`
	ROI        decimal.Decimal `json:"roi"`
	Valid      bool            `json:"valid"`
	Bucket     string          `json:"bucket"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Involves reports whether any leg trades on the venue.
func (o Opportunity) Involves(v VenueID) bool {
	return o.Legs[0].Venue == v || o.Legs[1].Venue == v
}

// ProfitAt returns the absolute net profit for the given contract count.
func (o Opportunity) ProfitAt(size decimal.Decimal) decimal.Decimal {
	return o.NetProfit.Mul(size)
}

// CapitalAt returns the capital needed for the given contract count.
func (o Opportunity) CapitalAt(size decimal.Decimal) decimal.Decimal {
	return o.TotalCost.Mul(size)
}
