package domain

import "time"

// Severity ranks alerts.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Detector names an edge-case detector.
type Detector string

const (
	DetectorSlippage         Detector = "slippage"
	DetectorPartialFill      Detector = "partial_fill"
	DetectorResolutionChange Detector = "resolution_change"
	DetectorPriceGap         Detector = "price_gap"
	DetectorPriceDivergence  Detector = "price_divergence"
)

// Alert is a severity-tagged finding from a detector.
type Alert struct {
	ID       string            `json:"id"`
	Detector Detector          `json:"detector"`
	Severity Severity          `json:"severity"`
	Key      string            `json:"key"` // pair or market the alert is about
	Markets  []MarketKey       `json:"markets,omitempty"`
	Message  string            `json:"message"`
	Values   map[string]string `json:"values,omitempty"`
	At       time.Time         `json:"at"`
}
