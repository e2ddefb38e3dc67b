package domain

import "github.com/shopspring/decimal"

// Fill reports how much of a leg was executed.
type Fill struct {
	Leg       Leg             `json:"leg"`
	Requested decimal.Decimal `json:"requested"`
	Filled    decimal.Decimal `json:"filled"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
}

// Ratio returns filled / requested, or zero for an empty request.
func (f Fill) Ratio() decimal.Decimal {
	if !f.Requested.IsPositive() {
		return decimal.Zero
	}
	return f.Filled.Div(f.Requested)
}

// HedgeInstruction is the offsetting order needed to flatten exposure. It is
// advisory only.
type HedgeInstruction struct {
	Venue         VenueID         `json:"venue"`
	Market        MarketKey       `json:"market"`
	Outcome       Outcome         `json:"outcome"`
	Side          string          `json:"side"` // "buy" or "sell"
	Size          decimal.Decimal `json:"size"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Reason        string          `json:"reason"`
}
