package domain

import "time"

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Complement returns the opposite outcome.
func (o Outcome) Complement() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// MarketKey identifies a market across venues.
type MarketKey struct {
	Venue VenueID `json:"venue"`
	ID    string  `json:"id"`
}

func (k MarketKey) String() string {
	return string(k.Venue) + ":" + k.ID
}

// Market is the venue-neutral description of a binary market.
type Market struct {
	Key              MarketKey `json:"key"`
	Question         string    `json:"question"`
	ResolutionSource string    `json:"resolution_source"`
	Expiry           time.Time `json:"expiry"`                   // UTC
	Timezone         string    `json:"timezone"`                 // IANA zone the venue states expiry in, if any
	OutcomeTokens    [2]string `json:"outcome_tokens,omitempty"` // venue asset ids for YES and NO
	Active           bool      `json:"active"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TokenFor returns the venue asset id carrying the given outcome.
func (m Market) TokenFor(o Outcome) string {
	if o == OutcomeYes {
		return m.OutcomeTokens[0]
	}
	return m.OutcomeTokens[1]
}
