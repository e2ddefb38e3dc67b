package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SessionState is the lifecycle state of a tenant's bot session.
type SessionState string

const (
	SessionStopped SessionState = "stopped"
	SessionRunning SessionState = "running"
	SessionError   SessionState = "error"
)

// SessionConfig is the per-tenant filter applied to the opportunity stream.
// MinROI is a percentage; MaxPosition is the capital cap per opportunity.
type SessionConfig struct {
	MinROI      decimal.Decimal `json:"min_roi"`
	MaxPosition decimal.Decimal `json:"max_position"`
	Venues      []VenueID       `json:"venues"`
	AutoExecute bool            `json:"auto_execute"`
}

// Validate reports a malformed configuration.
func (c SessionConfig) Validate() error {
	if c.MinROI.IsNegative() {
		return fmt.Errorf("%w: min_roi must be >= 0", ErrInvalidConfig)
	}
	if !c.MaxPosition.IsPositive() {
		return fmt.Errorf("%w: max_position must be > 0", ErrInvalidConfig)
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("%w: at least one venue must be enabled", ErrInvalidConfig)
	}
	return nil
}

// Enabled reports whether the venue is enabled for the session.
func (c SessionConfig) Enabled(v VenueID) bool {
	for _, e := range c.Venues {
		if e == v {
			return true
		}
	}
	return false
}

// SessionStatus is the externally visible state of a session.
type SessionStatus struct {
	Tenant            string          `json:"tenant"`
	State             SessionState    `json:"state"`
	Cause             string          `json:"cause,omitempty"`
	Config            *SessionConfig  `json:"config,omitempty"`
	StartedAt         time.Time       `json:"started_at,omitempty"`
	StoppedAt         time.Time       `json:"stopped_at,omitempty"`
	OpportunitiesSeen int64           `json:"opportunities_seen"`
	CumulativeProfit  decimal.Decimal `json:"cumulative_profit"`
	AlertsSeen        int64           `json:"alerts_seen"`
	Dropped           int64           `json:"dropped"`
}

// SessionItem is one entry of a tenant's push stream.
type SessionItem struct {
	Type        string       `json:"type"` // "opportunity" or "alert"
	Opportunity *Opportunity `json:"opportunity,omitempty"`
	Alert       *Alert       `json:"alert,omitempty"`
	// SuggestedSize is the opportunity size capped by the session's max position.
	SuggestedSize decimal.Decimal `json:"suggested_size,omitempty"`
}
