// Package venue defines the contract every exchange adapter implements and
// the supervisor that keeps an adapter connected.
package venue

import (
	"context"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// EventKind tags what an Event carries.
type EventKind string

const (
	EventBook   EventKind = "book"
	EventMarket EventKind = "market"
)

// Event is a normalized update from a venue.
type Event struct {
	Kind    EventKind
	Venue   domain.VenueID
	Book    domain.OrderbookSnapshot // EventBook
	Markets []domain.Market          // EventMarket
}

// Adapter hides one venue's transport, authentication and wire format.
//
// Connect establishes a session. Subscribe may be called before Stream and
// again while it runs; it replaces the subscribed market set. Stream blocks
// delivering events into sink until the session ends, and returns a non-nil
// error describing why. Disconnect releases the session and is safe to call
// more than once. Discover lists tradable markets and does not need a live
// session.
type Adapter interface {
	Venue() domain.VenueID
	Capabilities() domain.Capabilities
	Discover(ctx context.Context) ([]domain.Market, error)
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, markets []domain.Market) error
	Stream(ctx context.Context, sink chan<- Event) error
	Disconnect() error
}

// FeeSource is implemented by adapters that can report live fee schedules.
type FeeSource interface {
	FeeSchedule(ctx context.Context) (domain.FeeSchedule, error)
}

// Emit sends ev to sink unless ctx is done first.
func Emit(ctx context.Context, sink chan<- Event, ev Event) error {
	select {
	case sink <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
