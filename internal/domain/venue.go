package domain

import "time"

// VenueID identifies a prediction-market venue.
type VenueID string

const (
	VenueKalshi     VenueID = "kalshi"
	VenuePolymarket VenueID = "polymarket"
	VenueOpinion    VenueID = "opinion"
)

// VenueState is the connection state of a venue as seen by its supervisor.
type VenueState string

const (
	VenueConnecting   VenueState = "connecting"
	VenueLive         VenueState = "live"
	VenueDegraded     VenueState = "degraded"
	VenueDisconnected VenueState = "disconnected"
)

// Usable reports whether data from a venue in this state may feed matching
// and scanning. A degraded venue is still reconnecting and its snapshots age
// out through the staleness check.
func (s VenueState) Usable() bool {
	return s == VenueLive || s == VenueDegraded
}

// Capabilities describes what a venue adapter can provide.
type Capabilities struct {
	Streaming     bool `json:"streaming"`
	VenueSequence bool `json:"venue_sequence"`
	FeeQuery      bool `json:"fee_query"`
	TokenRefresh  bool `json:"token_refresh"`
}

// VenueStatus is a point-in-time view of a venue's connection.
type VenueStatus struct {
	ID                  VenueID      `json:"id"`
	State               VenueState   `json:"state"`
	Capabilities        Capabilities `json:"capabilities"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
	LastConnected       time.Time    `json:"last_connected,omitempty"`
	Since               time.Time    `json:"since"`
	Subscribed          int          `json:"subscribed"`
}
