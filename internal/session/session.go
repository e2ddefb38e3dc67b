package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// OpportunityChannel returns the Redis channel a tenant's opportunities are
// published on.
func OpportunityChannel(tenant string) string {
	return "ch:opp:" + tenant
}

// Session is one tenant's filtered view of the engine output. Its counters
// are written only by its own fan-out goroutine. Both the inbox and the
// outbound queue evict their oldest item on overflow; publishing runs on a
// separate goroutine so a slow bus never backs up the inbox.
type Session struct {
	tenant  string
	cfg     domain.SessionConfig
	inbox   *Queue
	queue   *Queue
	pending *Queue // items awaiting publication; nil without a bus
	bus     domain.SignalBus
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	state     domain.SessionState
	cause     string
	startedAt time.Time
	stoppedAt time.Time
	seen      int64
	profit    decimal.Decimal
	alerts    int64
}

func newSession(tenant string, cfg domain.SessionConfig, queueSize int, bus domain.SignalBus, logger *slog.Logger, now time.Time) *Session {
	s := &Session{
		tenant:    tenant,
		cfg:       cfg,
		inbox:     NewQueue(queueSize),
		queue:     NewQueue(queueSize),
		bus:       bus,
		logger:    logger.With(slog.String("tenant", tenant)),
		done:      make(chan struct{}),
		state:     domain.SessionRunning,
		startedAt: now,
		profit:    decimal.Zero,
	}
	if bus != nil {
		s.pending = NewQueue(queueSize)
	}
	return s
}

// failed returns a session that never ran.
func failed(tenant string, cfg domain.SessionConfig, cause string, now time.Time) *Session {
	s := &Session{
		tenant:    tenant,
		cfg:       cfg,
		inbox:     NewQueue(1),
		queue:     NewQueue(1),
		done:      make(chan struct{}),
		state:     domain.SessionError,
		cause:     cause,
		stoppedAt: now,
		profit:    decimal.Zero,
	}
	s.inbox.Close()
	s.queue.Close()
	close(s.done)
	return s
}

// Tenant returns the owning tenant id.
func (s *Session) Tenant() string { return s.tenant }

// Config returns the session's configuration.
func (s *Session) Config() domain.SessionConfig { return s.cfg }

// Next blocks for the next queued item. It returns domain.ErrSessionStopped
// once the session has stopped and its queue is drained.
func (s *Session) Next(ctx context.Context) (domain.SessionItem, error) {
	return s.queue.Pop(ctx)
}

// Done is closed when the fan-out goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns a snapshot of the session.
func (s *Session) Status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	return domain.SessionStatus{
		Tenant:            s.tenant,
		State:             s.state,
		Cause:             s.cause,
		Config:            &cfg,
		StartedAt:         s.startedAt,
		StoppedAt:         s.stoppedAt,
		OpportunitiesSeen: s.seen,
		CumulativeProfit:  s.profit,
		AlertsSeen:        s.alerts,
		Dropped:           s.queue.Dropped() + s.inbox.Dropped(),
	}
}

func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// offer hands an item to the fan-out goroutine without blocking.
func (s *Session) offer(item domain.SessionItem) {
	s.inbox.Push(item)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.queue.Close()
	defer s.inbox.Close()

	var wg sync.WaitGroup
	if s.pending != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.publishLoop(ctx)
		}()
	}
	defer func() {
		if s.pending != nil {
			s.pending.Close()
		}
		wg.Wait()
	}()

	for {
		item, err := s.inbox.Pop(ctx)
		if err != nil {
			return
		}
		s.handle(item)
	}
}

func (s *Session) handle(item domain.SessionItem) {
	switch {
	case item.Opportunity != nil:
		out, ok := Filter(s.cfg, *item.Opportunity)
		if !ok {
			return
		}
		profit := item.Opportunity.ProfitAt(out.SuggestedSize)
		s.mu.Lock()
		s.seen++
		s.profit = s.profit.Add(profit)
		s.mu.Unlock()
		s.queue.Push(out)
		if s.pending != nil {
			s.pending.Push(out)
		}
	case item.Alert != nil:
		if !alertRelevant(s.cfg, *item.Alert) {
			return
		}
		s.mu.Lock()
		s.alerts++
		s.mu.Unlock()
		s.queue.Push(item)
	}
}

func (s *Session) publishLoop(ctx context.Context) {
	for {
		item, err := s.pending.Pop(ctx)
		if err != nil {
			return
		}
		s.publish(ctx, item)
	}
}

func (s *Session) publish(ctx context.Context, item domain.SessionItem) {
	payload, err := json.Marshal(item)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, OpportunityChannel(s.tenant), payload); err != nil {
		s.logger.Debug("opportunity publish failed", slog.String("error", err.Error()))
	}
}

// setState moves the session to st and records the cause.
func (s *Session) setState(st domain.SessionState, cause string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.cause = cause
	if st != domain.SessionRunning {
		s.stoppedAt = at
	}
}

// halt cancels the fan-out and waits for it.
func (s *Session) halt() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Filter applies a session configuration to an opportunity. The suggested
// size is the opportunity size capped so that size × totalCost stays within
// the max position, in whole contracts.
func Filter(cfg domain.SessionConfig, opp domain.Opportunity) (domain.SessionItem, bool) {
	if !opp.Valid {
		return domain.SessionItem{}, false
	}
	if !cfg.Enabled(opp.Legs[0].Venue) || !cfg.Enabled(opp.Legs[1].Venue) {
		return domain.SessionItem{}, false
	}
	if opp.ROI.LessThan(cfg.MinROI) {
		return domain.SessionItem{}, false
	}
	size := opp.Size
	if opp.TotalCost.IsPositive() {
		if limit := cfg.MaxPosition.Div(opp.TotalCost).Floor(); limit.LessThan(size) {
			size = limit
		}
	}
	if !size.IsPositive() {
		return domain.SessionItem{}, false
	}
	return domain.SessionItem{Type: "opportunity", Opportunity: &opp, SuggestedSize: size}, true
}

func alertRelevant(cfg domain.SessionConfig, a domain.Alert) bool {
	if len(a.Markets) == 0 {
		return true
	}
	for _, m := range a.Markets {
		if cfg.Enabled(m.Venue) {
			return true
		}
	}
	return false
}
