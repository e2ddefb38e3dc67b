package matcher

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// ExpiryAlignment returns 1 when the expiries are within tolerance and decays
// linearly to 0 across the following decay window.
func ExpiryAlignment(a, b time.Time, tolerance, decay time.Duration) (float64, []string) {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	if gap <= tolerance {
		return 1, nil
	}
	var warnings []string
	if gap >= 7*24*time.Hour {
		warnings = append(warnings, fmt.Sprintf("large expiry difference: %.1f days", gap.Hours()/24))
	} else {
		warnings = append(warnings, fmt.Sprintf("expiry difference: %.1f hours", gap.Hours()))
	}
	if decay <= 0 {
		return 0, warnings
	}
	score := 1 - float64(gap-tolerance)/float64(decay)
	if score < 0 {
		score = 0
	}
	return score, warnings
}

// TimezoneAlignment compares the stated timezones of two markets. Zones agree
// when they are equal or share a UTC offset at the expiry instant.
func TimezoneAlignment(a, b domain.Market, missing, penalty float64) (float64, []string) {
	if a.Timezone == "" || b.Timezone == "" {
		return missing, []string{"missing timezone information"}
	}
	if a.Timezone == b.Timezone {
		return 1, nil
	}
	la, errA := time.LoadLocation(a.Timezone)
	lb, errB := time.LoadLocation(b.Timezone)
	if errA != nil || errB != nil {
		return penalty, []string{fmt.Sprintf("unrecognized timezone: %s / %s", a.Timezone, b.Timezone)}
	}
	_, offA := a.Expiry.In(la).Zone()
	_, offB := b.Expiry.In(lb).Zone()
	if offA == offB {
		return 1, nil
	}
	return penalty, []string{fmt.Sprintf("timezone offset difference: %.1f hours", float64(offA-offB)/3600)}
}
