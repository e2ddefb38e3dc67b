// Package hedge computes depth-aware fill estimates and the advisory orders
// that flatten a partially executed arbitrage.
package hedge

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// FillEstimate is the result of walking an ask ladder.
type FillEstimate struct {
	Requested   decimal.Decimal `json:"requested"`
	Filled      decimal.Decimal `json:"filled"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	BestPrice   decimal.Decimal `json:"best_price"`
	Slippage    decimal.Decimal `json:"slippage"`     // avg - best, per contract
	SlippagePct decimal.Decimal `json:"slippage_pct"` // percent of best
	// MaxSize is the depth available within the slippage limit of the best
	// price.
	MaxSize  decimal.Decimal `json:"max_size"`
	Complete bool            `json:"complete"`
}

// EstimateFill walks asks (best first) to buy size contracts. maxSlippagePct
// bounds MaxSize, in percent of the best price.
func EstimateFill(asks []domain.PriceLevel, size, maxSlippagePct decimal.Decimal) FillEstimate {
	est := FillEstimate{Requested: size}
	if len(asks) == 0 || !size.IsPositive() {
		return est
	}
	best := asks[0].Price
	est.BestPrice = best

	cost := decimal.Zero
	for _, lvl := range asks {
		if est.Filled.GreaterThanOrEqual(size) {
			break
		}
		take := decimal.Min(lvl.Size, size.Sub(est.Filled))
		if !take.IsPositive() {
			continue
		}
		est.Filled = est.Filled.Add(take)
		cost = cost.Add(take.Mul(lvl.Price))
	}
	est.Complete = est.Filled.GreaterThanOrEqual(size)
	if est.Filled.IsPositive() {
		est.AvgPrice = cost.Div(est.Filled)
		est.Slippage = est.AvgPrice.Sub(best)
		if best.IsPositive() {
			est.SlippagePct = est.Slippage.Div(best).Mul(hundred)
		}
	}

	limit := best.Mul(maxSlippagePct).Div(hundred)
	for _, lvl := range asks {
		if lvl.Price.Sub(best).Abs().GreaterThan(limit) {
			break
		}
		est.MaxSize = est.MaxSize.Add(lvl.Size)
	}
	return est
}
