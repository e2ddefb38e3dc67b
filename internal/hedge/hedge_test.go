package hedge

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/fees"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ladder() []domain.PriceLevel {
	return []domain.PriceLevel{
		{Price: d("0.40"), Size: d("50")},
		{Price: d("0.41"), Size: d("30")},
		{Price: d("0.45"), Size: d("100")},
	}
}

func TestEstimateFill_WalksLadder(t *testing.T) {
	est := EstimateFill(ladder(), d("100"), d("3"))

	assert.True(t, est.Complete)
	assert.True(t, est.Filled.Equal(d("100")))
	assert.True(t, est.AvgPrice.Equal(d("0.413")))
	assert.True(t, est.Slippage.Equal(d("0.013")))
	assert.True(t, est.SlippagePct.Equal(d("3.25")))
	assert.True(t, est.MaxSize.Equal(d("80")), "0.45 is beyond 3% of 0.40")
}

func TestEstimateFill_ThinBook(t *testing.T) {
	est := EstimateFill(ladder()[:1], d("80"), d("1"))
	assert.False(t, est.Complete)
	assert.True(t, est.Filled.Equal(d("50")))
	assert.True(t, est.AvgPrice.Equal(d("0.40")))
	assert.True(t, est.SlippagePct.IsZero())

	empty := EstimateFill(nil, d("10"), d("1"))
	assert.True(t, empty.Filled.IsZero())
	assert.False(t, empty.Complete)
}

var (
	kalshiYes = domain.Leg{Venue: domain.VenueKalshi, Market: domain.MarketKey{Venue: domain.VenueKalshi, ID: "K"}, Outcome: domain.OutcomeYes, Side: "buy", Price: d("0.60")}
	polyNo    = domain.Leg{Venue: domain.VenuePolymarket, Market: domain.MarketKey{Venue: domain.VenuePolymarket, ID: "P"}, Outcome: domain.OutcomeNo, Side: "buy", Price: d("0.40")}
)

func newCalc() *Calculator {
	reg := fees.NewRegistry(decimal.Zero,
		domain.FeeSchedule{Venue: domain.VenuePolymarket},
		domain.FeeSchedule{Venue: domain.VenueKalshi, TakerRate: d("0.007")},
	)
	return NewCalculator(reg, d("3"))
}

func TestCalculator_CompletesPartialFill(t *testing.T) {
	plan, err := newCalc().ForFill(
		domain.Fill{Leg: kalshiYes, Requested: d("100"), Filled: d("100"), AvgPrice: d("0.60")},
		domain.Fill{Leg: polyNo, Requested: d("100"), Filled: d("40"), AvgPrice: d("0.40")},
		domain.Quote{BestAsk: d("0.40"), Asks: ladder()},
	)
	require.NoError(t, err)
	require.Len(t, plan.Instructions, 1)
	assert.True(t, plan.Exposure.Equal(d("60")))

	h := plan.Instructions[0]
	assert.Equal(t, "buy", h.Side)
	assert.Equal(t, domain.VenuePolymarket, h.Venue)
	assert.Equal(t, domain.OutcomeNo, h.Outcome)
	assert.True(t, h.Size.Equal(d("60")))
	assert.True(t, h.LimitPrice.Equal(d("0.41")))
	cost, _ := h.EstimatedCost.Float64()
	assert.InDelta(t, 24.1, cost, 1e-9)
	require.NotNil(t, plan.Estimate)
	assert.True(t, plan.Estimate.Complete)
}

func TestCalculator_UnwindsOverFill(t *testing.T) {
	plan, err := newCalc().ForFill(
		domain.Fill{Leg: kalshiYes, Requested: d("100"), Filled: d("105"), AvgPrice: d("0.60")},
		domain.Fill{Leg: polyNo, Requested: d("100"), Filled: d("100"), AvgPrice: d("0.40")},
		domain.Quote{},
	)
	require.NoError(t, err)
	require.Len(t, plan.Instructions, 1)
	h := plan.Instructions[0]
	assert.Equal(t, "sell", h.Side)
	assert.Equal(t, "over_fill", h.Reason)
	assert.True(t, h.Size.Equal(d("5")))
	assert.True(t, h.EstimatedCost.Equal(d("0.021")), "0.7% of 0.60 on 5 contracts")
	assert.True(t, plan.Exposure.IsZero())
}

func TestCalculator_FallsBackToLegPrice(t *testing.T) {
	plan, err := newCalc().ForFill(
		domain.Fill{Leg: polyNo, Requested: d("10"), Filled: d("10")},
		domain.Fill{Leg: kalshiYes, Requested: d("10"), Filled: d("0")},
		domain.Quote{},
	)
	require.NoError(t, err)
	require.Len(t, plan.Instructions, 1)
	h := plan.Instructions[0]
	assert.True(t, h.LimitPrice.Equal(d("0.60")))
	assert.True(t, h.EstimatedCost.Equal(d("6.042")), "6.00 plus 0.7% fee")
	assert.Nil(t, plan.Estimate)
}

func TestCalculator_UnknownFee(t *testing.T) {
	c := NewCalculator(fees.NewRegistry(decimal.Zero), d("1"))
	_, err := c.ForFill(
		domain.Fill{Leg: kalshiYes, Requested: d("10"), Filled: d("10")},
		domain.Fill{Leg: polyNo, Requested: d("10"), Filled: d("0")},
		domain.Quote{BestAsk: d("0.4")},
	)
	assert.ErrorIs(t, err, domain.ErrUnknownFee)
}

func TestCalculator_NothingToDo(t *testing.T) {
	plan, err := newCalc().ForFill(
		domain.Fill{Leg: kalshiYes, Requested: d("10"), Filled: d("10")},
		domain.Fill{Leg: polyNo, Requested: d("10"), Filled: d("10")},
		domain.Quote{},
	)
	require.NoError(t, err)
	assert.Empty(t, plan.Instructions)
}
