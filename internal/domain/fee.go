package domain

import "github.com/shopspring/decimal"

// Liquidity is the role an order takes on the book.
type Liquidity string

const (
	Taker Liquidity = "taker"
	Maker Liquidity = "maker"
)

// FeeSchedule is a venue's trading cost structure. Rates are fractions of
// notional (0.007 = 0.7%). Zero caps mean uncapped.
type FeeSchedule struct {
	Venue          VenueID         `json:"venue"`
	TakerRate      decimal.Decimal `json:"taker_rate"`
	MakerRate      decimal.Decimal `json:"maker_rate"`
	MaxPerContract decimal.Decimal `json:"max_per_contract"`
	FixedPerOrder  decimal.Decimal `json:"fixed_per_order"`
	GasPerOrder    decimal.Decimal `json:"gas_per_order"`
	GasMax         decimal.Decimal `json:"gas_max"`
}

// Rate returns the percentage rate for the given liquidity role.
func (s FeeSchedule) Rate(l Liquidity) decimal.Decimal {
	if l == Maker {
		return s.MakerRate
	}
	return s.TakerRate
}
