package hedge

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// FeeQuoter prices a whole leg in dollars.
type FeeQuoter interface {
	LegFee(v domain.VenueID, price, size decimal.Decimal, liq domain.Liquidity) (decimal.Decimal, error)
}

// Calculator builds hedge instructions.
type Calculator struct {
	fees           FeeQuoter
	maxSlippagePct decimal.Decimal
}

// NewCalculator creates a calculator. maxSlippagePct is the slippage, in
// percent, tolerated when sizing against book depth.
func NewCalculator(fees FeeQuoter, maxSlippagePct decimal.Decimal) *Calculator {
	return &Calculator{fees: fees, maxSlippagePct: maxSlippagePct}
}

// Plan is the outcome of ForFill.
type Plan struct {
	Instructions []domain.HedgeInstruction `json:"instructions"`
	Estimate     *FillEstimate             `json:"estimate,omitempty"`
	Exposure     decimal.Decimal           `json:"exposure"` // unhedged contracts before the plan
}

// ForFill flattens a two-leg position after execution. filled is the leg that
// executed further; complement is the other leg and book its current quote.
//
// Any contracts beyond the request on either leg are unwound with a sell. If
// filled is ahead of complement, the difference is bought on the complement
// leg, priced against book depth when available.
func (c *Calculator) ForFill(filled, complement domain.Fill, book domain.Quote) (Plan, error) {
	var plan Plan

	for _, f := range []domain.Fill{filled, complement} {
		excess := f.Filled.Sub(f.Requested)
		if !excess.IsPositive() {
			continue
		}
		price := f.AvgPrice
		if !price.IsPositive() {
			price = f.Leg.Price
		}
		fee, err := c.fees.LegFee(f.Leg.Venue, price, excess, domain.Taker)
		if err != nil {
			return Plan{}, fmt.Errorf("hedge: unwind %s: %w", f.Leg.Market, err)
		}
		plan.Instructions = append(plan.Instructions, domain.HedgeInstruction{
			Venue:         f.Leg.Venue,
			Market:        f.Leg.Market,
			Outcome:       f.Leg.Outcome,
			Side:          "sell",
			Size:          excess,
			LimitPrice:    price,
			EstimatedCost: fee,
			Reason:        "over_fill",
		})
	}

	gap := capped(filled).Sub(capped(complement))
	plan.Exposure = gap.Abs()
	if !gap.IsPositive() {
		return plan, nil
	}

	limit := complement.Leg.Price
	avg := limit
	if len(book.Asks) > 0 {
		est := EstimateFill(book.Asks, gap, c.maxSlippagePct)
		plan.Estimate = &est
		if est.Filled.IsPositive() {
			avg = est.AvgPrice
			limit = book.Asks[0].Price
			for _, lvl := range book.Asks {
				if lvl.Price.Sub(est.BestPrice).GreaterThan(est.BestPrice.Mul(c.maxSlippagePct).Div(hundred)) {
					break
				}
				limit = lvl.Price
			}
		}
	} else if book.HasAsk() {
		limit, avg = book.BestAsk, book.BestAsk
	}
	if !limit.IsPositive() {
		return Plan{}, fmt.Errorf("hedge: no price for %s", complement.Leg.Market)
	}

	fee, err := c.fees.LegFee(complement.Leg.Venue, avg, gap, domain.Taker)
	if err != nil {
		return Plan{}, fmt.Errorf("hedge: complete %s: %w", complement.Leg.Market, err)
	}
	plan.Instructions = append(plan.Instructions, domain.HedgeInstruction{
		Venue:         complement.Leg.Venue,
		Market:        complement.Leg.Market,
		Outcome:       complement.Leg.Outcome,
		Side:          "buy",
		Size:          gap,
		LimitPrice:    limit,
		EstimatedCost: avg.Mul(gap).Add(fee),
		Reason:        "complete_partial_fill",
	})
	return plan, nil
}

func capped(f domain.Fill) decimal.Decimal {
	return decimal.Min(f.Filled, f.Requested)
}
