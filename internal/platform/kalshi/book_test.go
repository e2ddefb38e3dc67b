package kalshi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBook_SnapshotImpliesAsksFromOppositeBids(t *testing.T) {
	b := NewBook("PRES-24")
	b.ApplySnapshot(KalshiWSSnapshot{
		MarketTicker: "PRES-24",
		Yes:          [][2]int64{{55, 100}, {57, 40}, {50, 0}},
		No:           [][2]int64{{40, 25}, {38, 10}},
	})

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := b.Snapshot(7, at)

	assert.Equal(t, domain.MarketKey{Venue: domain.VenueKalshi, ID: "PRES-24"}, snap.Market)
	assert.Equal(t, uint64(7), snap.Sequence)
	assert.Equal(t, at, snap.Timestamp)

	// YES: best bid 57c, best ask is 100 - best NO bid (40c) = 60c.
	assert.True(t, snap.Yes.BestBid.Equal(dec("0.57")))
	assert.True(t, snap.Yes.BestAsk.Equal(dec("0.60")))
	require.Len(t, snap.Yes.Bids, 2, "zero quantity levels are dropped")
	require.Len(t, snap.Yes.Asks, 2)
	assert.True(t, snap.Yes.Asks[1].Price.Equal(dec("0.62")))
	assert.True(t, snap.Yes.Asks[0].Size.Equal(decimal.NewFromInt(25)))

	// NO: best bid 40c, best ask is 100 - 57 = 43c.
	assert.True(t, snap.No.BestBid.Equal(dec("0.40")))
	assert.True(t, snap.No.BestAsk.Equal(dec("0.43")))
}

func TestBook_ApplyDelta(t *testing.T) {
	b := NewBook("X")
	b.ApplySnapshot(KalshiWSSnapshot{Yes: [][2]int64{{50, 10}}})

	b.ApplyDelta(KalshiWSDelta{Price: 52, Delta: 5, Side: "yes"})
	b.ApplyDelta(KalshiWSDelta{Price: 45, Delta: 3, Side: "no"})
	snap := b.Snapshot(1, time.Now())
	assert.True(t, snap.Yes.BestBid.Equal(dec("0.52")))
	assert.True(t, snap.Yes.BestAsk.Equal(dec("0.55")))

	// Removing the best level exposes the next one.
	b.ApplyDelta(KalshiWSDelta{Price: 52, Delta: -5, Side: "yes"})
	snap = b.Snapshot(2, time.Now())
	assert.True(t, snap.Yes.BestBid.Equal(dec("0.50")))
	assert.Len(t, snap.Yes.Bids, 1)

	// Over-removal deletes the level instead of going negative.
	b.ApplyDelta(KalshiWSDelta{Price: 45, Delta: -10, Side: "no"})
	snap = b.Snapshot(3, time.Now())
	assert.False(t, snap.Yes.HasAsk())
	assert.Empty(t, snap.No.Bids)
}

func TestKalshiMarket_ToDomainMarket(t *testing.T) {
	m := KalshiMarket{
		Ticker:                 "FED-25DEC-T4.00",
		Title:                  "Will the Fed cut rates in December?",
		YesSubTitle:            "Above 4.00%",
		Status:                 "active",
		CloseTime:              "2025-12-10T19:00:00Z",
		ExpectedExpirationTime: "not-a-time",
		SettlementSource:       "Federal Reserve",
	}
	dm := m.ToDomainMarket("America/New_York")

	assert.Equal(t, domain.MarketKey{Venue: domain.VenueKalshi, ID: "FED-25DEC-T4.00"}, dm.Key)
	assert.Equal(t, "Will the Fed cut rates in December? Above 4.00%", dm.Question)
	assert.True(t, dm.Active)
	assert.Equal(t, time.Date(2025, 12, 10, 19, 0, 0, 0, time.UTC), dm.Expiry)
	assert.Equal(t, "America/New_York", dm.Timezone)
	assert.Equal(t, "Federal Reserve", dm.ResolutionSource)

	m.Status = "settled"
	assert.False(t, m.ToDomainMarket("").Active)
}
