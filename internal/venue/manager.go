package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Manager owns one supervisor per configured adapter and merges their events
// into a single channel.
type Manager struct {
	supervisors map[domain.VenueID]*Supervisor
	order       []domain.VenueID
	events      chan Event
	logger      *slog.Logger
}

// NewManager creates supervisors for adapters. buffer sizes the shared event
// channel.
func NewManager(adapters []Adapter, cfg SupervisorConfig, buffer int, logger *slog.Logger, opts ...SupervisorOption) *Manager {
	if buffer < 1 {
		buffer = 1
	}
	m := &Manager{
		supervisors: make(map[domain.VenueID]*Supervisor, len(adapters)),
		events:      make(chan Event, buffer),
		logger:      logger.With(slog.String("component", "venue_manager")),
	}
	for _, a := range adapters {
		m.supervisors[a.Venue()] = NewSupervisor(a, cfg, m.events, logger, opts...)
		m.order = append(m.order, a.Venue())
	}
	sort.Slice(m.order, func(i, j int) bool { return m.order[i] < m.order[j] })
	return m
}

// Events returns the merged event stream.
func (m *Manager) Events() <-chan Event { return m.events }

// Venues returns the managed venue ids in sorted order.
func (m *Manager) Venues() []domain.VenueID {
	return append([]domain.VenueID(nil), m.order...)
}

// Run starts every supervisor and blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range m.order {
		sup := m.supervisors[id]
		g.Go(func() error { return sup.Run(gctx) })
	}
	return g.Wait()
}

// Status returns the status of venue v.
func (m *Manager) Status(v domain.VenueID) (domain.VenueStatus, bool) {
	sup, ok := m.supervisors[v]
	if !ok {
		return domain.VenueStatus{}, false
	}
	return sup.Status(), true
}

// Statuses returns every venue's status in sorted order.
func (m *Manager) Statuses() []domain.VenueStatus {
	out := make([]domain.VenueStatus, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.supervisors[id].Status())
	}
	return out
}

// Usable reports whether venue v is managed and its data may be used.
func (m *Manager) Usable(v domain.VenueID) bool {
	st, ok := m.Status(v)
	return ok && st.State.Usable()
}

// OnStateChange registers fn on every supervisor.
func (m *Manager) OnStateChange(fn func(domain.VenueStatus)) {
	for _, id := range m.order {
		m.supervisors[id].OnStateChange(fn)
	}
}

// Subscribe hands each venue the markets it should stream. Venues missing
// from byVenue are subscribed to nothing.
func (m *Manager) Subscribe(byVenue map[domain.VenueID][]domain.Market) {
	for _, id := range m.order {
		m.supervisors[id].SetDesired(byVenue[id])
	}
}

// Discover lists markets on every venue. A failing venue is logged and
// skipped; the error is returned only when every venue fails.
func (m *Manager) Discover(ctx context.Context) ([]domain.Market, error) {
	var (
		all    []domain.Market
		failed int
		last   error
	)
	for _, id := range m.order {
		markets, err := m.supervisors[id].Adapter().Discover(ctx)
		if err != nil {
			failed++
			last = err
			m.logger.Warn("market discovery failed",
				slog.String("venue", string(id)),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.Info("markets discovered",
			slog.String("venue", string(id)),
			slog.Int("count", len(markets)),
		)
		all = append(all, markets...)
	}
	if failed > 0 && failed == len(m.order) {
		return nil, fmt.Errorf("venue: discover: %w: %v", domain.ErrNoVenueReachable, last)
	}
	return all, nil
}

// FeeSources returns the adapters that report live fee schedules.
func (m *Manager) FeeSources() []FeeSource {
	var out []FeeSource
	for _, id := range m.order {
		if fs, ok := m.supervisors[id].Adapter().(FeeSource); ok {
			out = append(out, fs)
		}
	}
	return out
}
