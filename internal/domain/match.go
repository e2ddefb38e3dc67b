package domain

import "time"

// SubScores are the four components of a match score, each in [0,1].
type SubScores struct {
	Question   float64 `json:"question"`
	Resolution float64 `json:"resolution"`
	Expiry     float64 `json:"expiry"`
	Timezone   float64 `json:"timezone"`
}

// MatchCandidate is a scored pair of markets on different venues.
type MatchCandidate struct {
	ID          string    `json:"id"`
	A           MarketKey `json:"a"`
	B           MarketKey `json:"b"`
	Scores      SubScores `json:"scores"`
	Composite   float64   `json:"composite"`
	Accepted    bool      `json:"accepted"`
	Confidence  float64   `json:"confidence"`
	Warnings    []string  `json:"warnings,omitempty"`
	RiskFactors []string  `json:"risk_factors,omitempty"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Involves reports whether the candidate references the market.
func (m MatchCandidate) Involves(k MarketKey) bool {
	return m.A == k || m.B == k
}

// PairID returns an order-independent identifier for a market pair.
func PairID(a, b MarketKey) string {
	as, bs := a.String(), b.String()
	if bs < as {
		as, bs = bs, as
	}
	return as + "|" + bs
}
