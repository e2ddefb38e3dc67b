package scanner

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Direction names which outcome is bought on which side of a candidate.
const (
	DirYesANoB = "yes_a_no_b"
	DirNoAYesB = "no_a_yes_b"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	errNoAsk = errors.New("scanner: outcome has no ask")
)

// FeeQuoter returns the per-contract taker fee for buying size contracts.
type FeeQuoter interface {
	PerUnit(v domain.VenueID, price, size decimal.Decimal, liq domain.Liquidity) (decimal.Decimal, error)
}

// Price evaluates both directions of candidate c against books a and b and
// returns the better one. A valid direction beats an invalid one; between
// valid directions the higher ROI wins. An unknown fee for either venue
// returns domain.ErrUnknownFee.
func Price(c domain.MatchCandidate, a, b domain.OrderbookSnapshot, fees FeeQuoter, size decimal.Decimal) (domain.Opportunity, error) {
	var (
		best  domain.Opportunity
		found bool
	)
	for _, dir := range []string{DirYesANoB, DirNoAYesB} {
		oa, ob := domain.OutcomeYes, domain.OutcomeNo
		if dir == DirNoAYesB {
			oa, ob = ob, oa
		}
		opp, err := priceDirection(c, dir, leg(a, oa), leg(b, ob), fees, size)
		if errors.Is(err, errNoAsk) {
			continue
		}
		if err != nil {
			return domain.Opportunity{}, err
		}
		if !found || better(opp, best) {
			best, found = opp, true
		}
	}
	if !found {
		return domain.Opportunity{}, errNoAsk
	}
	return best, nil
}

func better(x, y domain.Opportunity) bool {
	if x.Valid != y.Valid {
		return x.Valid
	}
	return x.ROI.GreaterThan(y.ROI)
}

func leg(s domain.OrderbookSnapshot, o domain.Outcome) domain.Leg {
	return domain.Leg{
		Venue:   s.Market.Venue,
		Market:  s.Market,
		Outcome: o,
		Side:    "buy",
		Price:   s.Quote(o).BestAsk,
	}
}

func priceDirection(c domain.MatchCandidate, dir string, la, lb domain.Leg, fees FeeQuoter, size decimal.Decimal) (domain.Opportunity, error) {
	if !la.Price.IsPositive() || !lb.Price.IsPositive() {
		return domain.Opportunity{}, errNoAsk
	}
	var err error
	if la.Fee, err = fees.PerUnit(la.Venue, la.Price, size, domain.Taker); err != nil {
		return domain.Opportunity{}, fmt.Errorf("scanner: %s fee: %w", la.Venue, err)
	}
	if lb.Fee, err = fees.PerUnit(lb.Venue, lb.Price, size, domain.Taker); err != nil {
		return domain.Opportunity{}, fmt.Errorf("scanner: %s fee: %w", lb.Venue, err)
	}

	gross := la.Price.Add(lb.Price)
	fee := la.Fee.Add(lb.Fee)
	total := gross.Add(fee)
	opp := domain.Opportunity{
		MatchID:   c.ID,
		Direction: dir,
		Legs:      [2]domain.Leg{la, lb},
		Size:      size,
		GrossCost: gross,
		Fees:      fee,
		TotalCost: total,
		Valid:     total.LessThan(one),
	}
	opp.NetProfit = one.Sub(total)
	if total.IsPositive() {
		opp.ROI = opp.NetProfit.Div(total).Mul(hundred)
	}
	return opp, nil
}

// Bucket rounds both leg prices down to width so small moves inside a bucket
// do not re-emit the same opportunity.
func Bucket(o domain.Opportunity, width decimal.Decimal) string {
	round := func(p decimal.Decimal) string {
		if !width.IsPositive() {
			return p.String()
		}
		return p.Div(width).Floor().Mul(width).String()
	}
	return o.Direction + ":" + round(o.Legs[0].Price) + "|" + round(o.Legs[1].Price)
}
