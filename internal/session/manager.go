// Package session runs per-tenant bot sessions over the shared opportunity
// and alert streams.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// VenueHealth reports whether a venue currently has usable data.
type VenueHealth interface {
	Usable(v domain.VenueID) bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus publishes each session's opportunities on its tenant channel.
func WithBus(bus domain.SignalBus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns every tenant's session. Sessions share no mutable state; the
// manager only routes items to them.
type Manager struct {
	queueSize int
	venues    VenueHealth
	bus       domain.SignalBus
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. queueSize bounds each session's
// outbound queue.
func NewManager(queueSize int, venues VenueHealth, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		queueSize: queueSize,
		venues:    venues,
		logger:    logger.With(slog.String("component", "session_manager")),
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins a session for tenant. An invalid configuration or a
// configuration whose venues are all unreachable leaves the tenant in the
// error state with a cause. A tenant in the error state must be stopped
// before it can start again.
func (m *Manager) Start(tenant string, cfg domain.SessionConfig) (domain.SessionStatus, error) {
	if tenant == "" {
		return domain.SessionStatus{}, fmt.Errorf("session: %w: empty tenant", domain.ErrInvalidConfig)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[tenant]; ok {
		switch cur.State() {
		case domain.SessionRunning:
			return cur.Status(), fmt.Errorf("session: start %s: %w", tenant, domain.ErrSessionRunning)
		case domain.SessionError:
			return cur.Status(), fmt.Errorf("session: start %s: %w", tenant, domain.ErrSessionFaulted)
		}
	}

	now := m.now()
	if err := cfg.Validate(); err != nil {
		s := failed(tenant, cfg, err.Error(), now)
		m.sessions[tenant] = s
		return s.Status(), fmt.Errorf("session: start %s: %w", tenant, err)
	}
	if !m.anyUsable(cfg) {
		s := failed(tenant, cfg, "no enabled venue reachable", now)
		m.sessions[tenant] = s
		return s.Status(), fmt.Errorf("session: start %s: %w", tenant, domain.ErrNoVenueReachable)
	}

	s := newSession(tenant, cfg, m.queueSize, m.bus, m.logger, now)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	m.sessions[tenant] = s

	m.logger.Info("session started",
		slog.String("tenant", tenant),
		slog.String("min_roi", cfg.MinROI.String()),
		slog.String("max_position", cfg.MaxPosition.String()),
		slog.Int("venues", len(cfg.Venues)),
	)
	return s.Status(), nil
}

func (m *Manager) anyUsable(cfg domain.SessionConfig) bool {
	if m.venues == nil {
		return true
	}
	for _, v := range cfg.Venues {
		if m.venues.Usable(v) {
			return true
		}
	}
	return false
}

// Stop ends a running session or clears an errored one.
func (m *Manager) Stop(tenant string) (domain.SessionStatus, error) {
	m.mu.Lock()
	s, ok := m.sessions[tenant]
	m.mu.Unlock()
	if !ok {
		return domain.SessionStatus{Tenant: tenant, State: domain.SessionStopped}, fmt.Errorf("session: stop %s: %w", tenant, domain.ErrSessionStopped)
	}

	switch s.State() {
	case domain.SessionStopped:
		return s.Status(), fmt.Errorf("session: stop %s: %w", tenant, domain.ErrSessionStopped)
	case domain.SessionError:
		s.setState(domain.SessionStopped, "", m.now())
	default:
		s.halt()
		s.setState(domain.SessionStopped, "", m.now())
		m.logger.Info("session stopped", slog.String("tenant", tenant))
	}
	return s.Status(), nil
}

// Status returns the tenant's session status. A tenant that never started is
// reported as stopped.
func (m *Manager) Status(tenant string) domain.SessionStatus {
	m.mu.RLock()
	s, ok := m.sessions[tenant]
	m.mu.RUnlock()
	if !ok {
		return domain.SessionStatus{Tenant: tenant, State: domain.SessionStopped}
	}
	return s.Status()
}

// Session returns the tenant's current session.
func (m *Manager) Session(tenant string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[tenant]
	return s, ok
}

// Statuses returns every known session, sorted by tenant.
func (m *Manager) Statuses() []domain.SessionStatus {
	m.mu.RLock()
	out := make([]domain.SessionStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Status())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}

func (m *Manager) running() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.State() == domain.SessionRunning {
			out = append(out, s)
		}
	}
	return out
}

// Dispatch routes one item to every running session.
func (m *Manager) Dispatch(item domain.SessionItem) {
	for _, s := range m.running() {
		s.offer(item)
	}
}

// Run routes the scanner and monitor streams to sessions until ctx is
// cancelled or both streams close. Every session is stopped on return.
func (m *Manager) Run(ctx context.Context, opps <-chan domain.Opportunity, alerts <-chan domain.Alert) error {
	defer m.Close()
	for opps != nil || alerts != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-opps:
			if !ok {
				opps = nil
				continue
			}
			m.Dispatch(domain.SessionItem{Type: "opportunity", Opportunity: &o})
		case a, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			m.Dispatch(domain.SessionItem{Type: "alert", Alert: &a})
		}
	}
	return nil
}

// VenueChanged moves running sessions to the error state when none of their
// enabled venues is usable any more. It is meant to be registered as a venue
// state listener.
func (m *Manager) VenueChanged(st domain.VenueStatus) {
	if st.State.Usable() {
		return
	}
	for _, s := range m.running() {
		if !s.cfg.Enabled(st.ID) || m.anyUsable(s.cfg) {
			continue
		}
		s.halt()
		s.setState(domain.SessionError, "no enabled venue reachable", m.now())
		m.logger.Warn("session faulted",
			slog.String("tenant", s.tenant),
			slog.String("venue", string(st.ID)),
			slog.String("venue_state", string(st.State)),
		)
	}
}

// Close stops every running session.
func (m *Manager) Close() {
	for _, s := range m.running() {
		s.halt()
		s.setState(domain.SessionStopped, "", m.now())
	}
}
