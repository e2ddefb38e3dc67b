package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// SupervisorConfig controls reconnection.
type SupervisorConfig struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Jitter           float64 // fraction of each delay that is randomized; 1 is full jitter
	ConnectTimeout   time.Duration
	FailureThreshold int
	FailureWindow    time.Duration
}

// DefaultSupervisorConfig returns the standard reconnection policy.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		BaseDelay:        2 * time.Second,
		MaxDelay:         60 * time.Second,
		Jitter:           1,
		ConnectTimeout:   15 * time.Second,
		FailureThreshold: 5,
		FailureWindow:    5 * time.Minute,
	}
}

// Backoff returns the delay before retry number attempt (0-based): the
// exponential delay min(max, base*2^attempt) with the jitter fraction of it
// replaced by r*delay*jitter, where r is in [0,1).
func (c SupervisorConfig) Backoff(attempt int, r float64) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt && d < c.MaxDelay; i++ {
		d *= 2
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	fixed := float64(d) * (1 - c.Jitter)
	return time.Duration(fixed + r*float64(d)*c.Jitter)
}

// Supervisor keeps one adapter connected, retrying with backoff for as long
// as its context lives, and tracks the venue's connection state.
type Supervisor struct {
	adapter Adapter
	cfg     SupervisorConfig
	sink    chan<- Event
	logger  *slog.Logger

	now   func() time.Time
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	status   domain.VenueStatus
	failures []time.Time
	desired  []domain.Market
	listener []func(domain.VenueStatus)

	resub chan struct{}
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorClock overrides the time source.
func WithSupervisorClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) { s.now = now }
}

// WithRand overrides the jitter source.
func WithRand(r func() float64) SupervisorOption {
	return func(s *Supervisor) { s.rand = r }
}

// WithSleep overrides how the supervisor waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) SupervisorOption {
	return func(s *Supervisor) { s.sleep = sleep }
}

// NewSupervisor creates a supervisor delivering the adapter's events to sink.
func NewSupervisor(a Adapter, cfg SupervisorConfig, sink chan<- Event, logger *slog.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		adapter: a,
		cfg:     cfg,
		sink:    sink,
		logger: logger.With(
			slog.String("component", "venue_supervisor"),
			slog.String("venue", string(a.Venue())),
		),
		now:   time.Now,
		rand:  rand.Float64,
		sleep: sleepCtx,
		resub: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.status = domain.VenueStatus{
		ID:           a.Venue(),
		State:        domain.VenueConnecting,
		Capabilities: a.Capabilities(),
		Since:        s.now(),
	}
	return s
}

// Adapter returns the supervised adapter.
func (s *Supervisor) Adapter() Adapter { return s.adapter }

// Status returns the current connection status.
func (s *Supervisor) Status() domain.VenueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Subscribed = len(s.desired)
	return st
}

// OnStateChange registers fn to be called after every state transition.
func (s *Supervisor) OnStateChange(fn func(domain.VenueStatus)) {
	s.mu.Lock()
	s.listener = append(s.listener, fn)
	s.mu.Unlock()
}

// SetDesired replaces the markets the adapter should be subscribed to. A
// live session is resubscribed promptly; a new session subscribes on connect.
func (s *Supervisor) SetDesired(markets []domain.Market) {
	s.mu.Lock()
	s.desired = append([]domain.Market(nil), markets...)
	s.mu.Unlock()
	select {
	case s.resub <- struct{}{}:
	default:
	}
}

func (s *Supervisor) desiredMarkets() []domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Market(nil), s.desired...)
}

// Run connects and streams until ctx is cancelled, reconnecting after every
// failure. It returns nil on cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopped")
			return nil
		}

		attempt := s.recordFailure(err)
		delay := s.cfg.Backoff(attempt, s.rand())
		s.logger.Warn("venue session ended, retrying",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		if err := s.sleep(ctx, delay); err != nil {
			s.logger.Info("supervisor stopped")
			return nil
		}
	}
}

// session runs one connect-subscribe-stream cycle. A panic anywhere in the
// adapter is converted into an error.
func (s *Supervisor) session(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("adapter panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("venue: %s: panic: %v", s.adapter.Venue(), r)
		}
	}()

	connCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	err = s.adapter.Connect(connCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("venue: %s: connect: %w", s.adapter.Venue(), err)
	}
	defer func() {
		if cerr := s.adapter.Disconnect(); cerr != nil {
			s.logger.Debug("disconnect failed", slog.String("error", cerr.Error()))
		}
	}()

	// Drain a stale resubscribe signal; the subscription below covers it.
	select {
	case <-s.resub:
	default:
	}
	if err := s.adapter.Subscribe(ctx, s.desiredMarkets()); err != nil {
		return fmt.Errorf("venue: %s: subscribe: %w", s.adapter.Venue(), err)
	}
	s.markLive()

	streamCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.resubscribeLoop(streamCtx, stop)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	err = s.adapter.Stream(streamCtx, s.sink)
	if err == nil {
		err = fmt.Errorf("venue: %s: stream ended", s.adapter.Venue())
	}
	return err
}

// resubscribeLoop applies SetDesired calls to the live session. A failed
// resubscribe ends the session.
func (s *Supervisor) resubscribeLoop(ctx context.Context, stop context.CancelFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("adapter panicked during resubscribe", slog.Any("panic", r))
			stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.resub:
			markets := s.desiredMarkets()
			if err := s.adapter.Subscribe(ctx, markets); err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("resubscribe failed", slog.String("error", err.Error()))
					stop()
				}
				return
			}
			s.logger.Info("subscriptions updated", slog.Int("markets", len(markets)))
		}
	}
}

func (s *Supervisor) markLive() {
	s.mu.Lock()
	now := s.now()
	s.status.State = domain.VenueLive
	s.status.ConsecutiveFailures = 0
	s.failures = s.failures[:0]
	s.status.LastConnected = now
	s.status.Since = now
	st := s.status
	listeners := append(([]func(domain.VenueStatus))(nil), s.listener...)
	s.mu.Unlock()

	s.logger.Info("venue live")
	for _, fn := range listeners {
		fn(st)
	}
}

// recordFailure updates the failure window and state and returns the
// 0-based retry attempt for backoff. The window only holds failures since the
// venue was last live.
func (s *Supervisor) recordFailure(err error) int {
	s.mu.Lock()
	now := s.now()
	cutoff := now.Add(-s.cfg.FailureWindow)
	kept := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failures = append(kept, now)
	n := len(s.failures)

	prev := s.status.State
	next := domain.VenueDegraded
	if n >= s.cfg.FailureThreshold {
		next = domain.VenueDisconnected
	}
	s.status.ConsecutiveFailures = n
	s.status.LastError = err.Error()
	if next != prev {
		s.status.State = next
		s.status.Since = now
	}
	st := s.status
	listeners := append(([]func(domain.VenueStatus))(nil), s.listener...)
	s.mu.Unlock()

	if next != prev {
		s.logger.Warn("venue state changed",
			slog.String("from", string(prev)),
			slog.String("to", string(next)),
			slog.Int("failures", n),
		)
		for _, fn := range listeners {
			fn(st)
		}
	}
	return n - 1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
