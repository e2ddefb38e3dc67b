package monitor

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

var two = decimal.NewFromInt(2)

// Thresholds are detector limits. Ratios are fractions (0.02 = 2%).
type Thresholds struct {
	SlippageCritical    decimal.Decimal
	SlippageHigh        decimal.Decimal
	MinFillRatio        decimal.Decimal
	LowFillRatio        decimal.Decimal
	DivergenceThreshold decimal.Decimal
}

// DefaultThresholds returns the standard detector limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SlippageCritical:    decimal.RequireFromString("0.02"),
		SlippageHigh:        decimal.RequireFromString("0.01"),
		MinFillRatio:        decimal.RequireFromString("0.80"),
		LowFillRatio:        decimal.RequireFromString("0.50"),
		DivergenceThreshold: decimal.RequireFromString("0.05"),
	}
}

// Slippage returns the relative slippage of observed against expected and
// its severity. ok is false below the high threshold.
func (t Thresholds) Slippage(expected, observed decimal.Decimal) (slip decimal.Decimal, sev domain.Severity, ok bool) {
	if !expected.IsPositive() {
		return decimal.Zero, "", false
	}
	slip = observed.Sub(expected).Abs().Div(expected)
	switch {
	case slip.GreaterThan(t.SlippageCritical):
		return slip, domain.SeverityCritical, true
	case slip.GreaterThan(t.SlippageHigh):
		return slip, domain.SeverityHigh, true
	}
	return slip, "", false
}

// PartialFill classifies a fill ratio. ok is false at or above the minimum.
func (t Thresholds) PartialFill(f domain.Fill) (ratio decimal.Decimal, sev domain.Severity, ok bool) {
	ratio = f.Ratio()
	if !ratio.LessThan(t.MinFillRatio) {
		return ratio, "", false
	}
	if ratio.LessThan(t.LowFillRatio) {
		return ratio, domain.SeverityHigh, true
	}
	return ratio, domain.SeverityMedium, true
}

// Divergence compares two prices for the same outcome relative to their
// average. ok is true when the gap exceeds the threshold.
func (t Thresholds) Divergence(a, b decimal.Decimal) (div decimal.Decimal, ok bool) {
	if !a.IsPositive() || !b.IsPositive() {
		return decimal.Zero, false
	}
	avg := a.Add(b).Div(two)
	div = a.Sub(b).Abs().Div(avg)
	return div, div.GreaterThan(t.DivergenceThreshold)
}
