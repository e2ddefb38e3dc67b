package matcher_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/matcher"
)

func TestExpiryAlignment(t *testing.T) {
	base := time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)
	tol, decay := time.Hour, 7*24*time.Hour

	score, warnings := matcher.ExpiryAlignment(base, base.Add(30*time.Minute), tol, decay)
	assert.Equal(t, 1.0, score)
	assert.Empty(t, warnings)

	score, _ = matcher.ExpiryAlignment(base, base.Add(-tol), tol, decay)
	assert.Equal(t, 1.0, score)

	score, warnings = matcher.ExpiryAlignment(base, base.Add(85*time.Hour), tol, decay)
	assert.InDelta(t, 0.5, score, 1e-9)
	assert.Len(t, warnings, 1)

	score, warnings = matcher.ExpiryAlignment(base, base.Add(tol+decay+time.Minute), tol, decay)
	assert.Zero(t, score)
	assert.Contains(t, warnings[0], "large expiry difference")
}

func tzMarket(tz string, expiry time.Time) domain.Market {
	return domain.Market{Timezone: tz, Expiry: expiry}
}

func TestTimezoneAlignment(t *testing.T) {
	winter := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	summer := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

	score, warnings := matcher.TimezoneAlignment(tzMarket("", winter), tzMarket("UTC", winter), 0.7, 0.6)
	assert.Equal(t, 0.7, score)
	assert.Len(t, warnings, 1)

	score, _ = matcher.TimezoneAlignment(tzMarket("America/New_York", winter), tzMarket("America/New_York", winter), 0.7, 0.6)
	assert.Equal(t, 1.0, score)

	score, _ = matcher.TimezoneAlignment(tzMarket("Europe/London", winter), tzMarket("UTC", winter), 0.7, 0.6)
	assert.Equal(t, 1.0, score, "same offset in winter")

	score, warnings = matcher.TimezoneAlignment(tzMarket("Europe/London", summer), tzMarket("UTC", summer), 0.7, 0.6)
	assert.Equal(t, 0.6, score, "BST differs from UTC")
	assert.Len(t, warnings, 1)

	score, _ = matcher.TimezoneAlignment(tzMarket("America/New_York", winter), tzMarket("UTC", winter), 0.7, 0.6)
	assert.Equal(t, 0.6, score)

	score, _ = matcher.TimezoneAlignment(tzMarket("Mars/Olympus", winter), tzMarket("UTC", winter), 0.7, 0.6)
	assert.Equal(t, 0.6, score)
}
