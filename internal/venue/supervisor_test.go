package venue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func TestBackoff(t *testing.T) {
	cfg := SupervisorConfig{BaseDelay: time.Second, MaxDelay: 8 * time.Second}

	want := []time.Duration{1, 2, 4, 8, 8, 8}
	for attempt, w := range want {
		assert.Equal(t, w*time.Second, cfg.Backoff(attempt, 0.9), "attempt %d", attempt)
	}

	cfg.Jitter = 1
	assert.Equal(t, 2*time.Second, cfg.Backoff(2, 0.5))
	assert.Equal(t, time.Duration(0), cfg.Backoff(2, 0))

	cfg.Jitter = 0.5
	assert.Equal(t, 2*time.Second, cfg.Backoff(2, 0))
	assert.Equal(t, 3*time.Second, cfg.Backoff(2, 0.5))

	assert.Equal(t, 8*time.Second, SupervisorConfig{BaseDelay: time.Second, MaxDelay: 8 * time.Second}.Backoff(1000, 0))
}

type recorder struct {
	mu     sync.Mutex
	states []domain.VenueState
	delays []time.Duration
}

func (r *recorder) onState(st domain.VenueStatus) {
	r.mu.Lock()
	r.states = append(r.states, st.State)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]domain.VenueState, []time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.VenueState(nil), r.states...), append([]time.Duration(nil), r.delays...)
}

func testConfig() SupervisorConfig {
	return SupervisorConfig{
		BaseDelay:        time.Second,
		MaxDelay:         time.Minute,
		Jitter:           0,
		ConnectTimeout:   time.Second,
		FailureThreshold: 3,
		FailureWindow:    5 * time.Minute,
	}
}

func TestSupervisor_ReconnectsThenGoesLive(t *testing.T) {
	fa := newFake(domain.VenueKalshi)
	fa.connect = func(_ context.Context, n int) error {
		if n <= 2 {
			return errors.New("refused")
		}
		return nil
	}
	fa.stream = func(ctx context.Context, sink chan<- Event, _ int) error {
		_ = Emit(ctx, sink, Event{Kind: EventBook, Venue: domain.VenueKalshi})
		<-ctx.Done()
		return ctx.Err()
	}

	rec := &recorder{}
	sink := make(chan Event, 1)
	sup := NewSupervisor(fa, testConfig(), sink, discardLogger(),
		WithSleep(func(_ context.Context, d time.Duration) error {
			rec.mu.Lock()
			rec.delays = append(rec.delays, d)
			rec.mu.Unlock()
			return nil
		}),
	)
	sup.OnStateChange(rec.onState)
	assert.Equal(t, domain.VenueConnecting, sup.Status().State)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case ev := <-sink:
		assert.Equal(t, EventBook, ev.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
	assert.Equal(t, domain.VenueLive, sup.Status().State)
	assert.Zero(t, sup.Status().ConsecutiveFailures)

	cancel()
	require.NoError(t, <-done)

	states, delays := rec.snapshot()
	assert.Equal(t, []domain.VenueState{domain.VenueDegraded, domain.VenueLive}, states)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)

	connects, disconnects := fa.counts()
	assert.Equal(t, 3, connects)
	assert.Equal(t, 1, disconnects, "only established sessions are torn down")
}

func TestSupervisor_DisconnectedAfterThreshold(t *testing.T) {
	fa := newFake(domain.VenuePolymarket)
	fa.connect = func(context.Context, int) error { return errors.New("down") }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	sleeps := 0
	sup := NewSupervisor(fa, testConfig(), make(chan Event), discardLogger(),
		WithSleep(func(context.Context, time.Duration) error {
			sleeps++
			if sleeps == 4 {
				cancel()
				return context.Canceled
			}
			return nil
		}),
	)
	sup.OnStateChange(rec.onState)

	require.NoError(t, sup.Run(ctx))

	st := sup.Status()
	assert.Equal(t, domain.VenueDisconnected, st.State)
	assert.False(t, st.State.Usable())
	assert.Equal(t, 4, st.ConsecutiveFailures)
	assert.Contains(t, st.LastError, "down")

	states, _ := rec.snapshot()
	assert.Equal(t, []domain.VenueState{domain.VenueDegraded, domain.VenueDisconnected}, states)
}

func TestSupervisor_FailuresOutsideWindowDoNotCount(t *testing.T) {
	fa := newFake(domain.VenueOpinion)
	fa.connect = func(context.Context, int) error { return errors.New("down") }

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := 0
	sup := NewSupervisor(fa, testConfig(), make(chan Event), discardLogger(),
		WithSupervisorClock(func() time.Time { return now }),
		WithSleep(func(context.Context, time.Duration) error {
			now = now.Add(10 * time.Minute)
			sleeps++
			if sleeps == 6 {
				cancel()
				return context.Canceled
			}
			return nil
		}),
	)

	require.NoError(t, sup.Run(ctx))
	st := sup.Status()
	assert.Equal(t, domain.VenueDegraded, st.State)
	assert.Equal(t, 1, st.ConsecutiveFailures)
}

func TestSupervisor_GoingLiveResetsFailureWindow(t *testing.T) {
	fa := newFake(domain.VenueKalshi)
	fa.stream = func(context.Context, chan<- Event, int) error { return errors.New("dropped") }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	sup := NewSupervisor(fa, testConfig(), make(chan Event), discardLogger(),
		WithSleep(func(_ context.Context, d time.Duration) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.delays = append(rec.delays, d)
			if len(rec.delays) == 5 {
				cancel()
				return context.Canceled
			}
			return nil
		}),
	)
	sup.OnStateChange(rec.onState)

	require.NoError(t, sup.Run(ctx))

	states, delays := rec.snapshot()
	assert.NotContains(t, states, domain.VenueDisconnected)
	assert.Equal(t, domain.VenueDegraded, sup.Status().State)
	assert.Equal(t, 1, sup.Status().ConsecutiveFailures)
	for _, d := range delays {
		assert.Equal(t, time.Second, d, "every drop follows a successful connect")
	}
}

func TestSupervisor_RecoversPanics(t *testing.T) {
	fa := newFake(domain.VenueKalshi)
	fa.stream = func(ctx context.Context, sink chan<- Event, n int) error {
		if n == 1 {
			panic("boom")
		}
		_ = Emit(ctx, sink, Event{Kind: EventMarket})
		<-ctx.Done()
		return ctx.Err()
	}

	sink := make(chan Event, 1)
	sup := NewSupervisor(fa, testConfig(), sink, discardLogger(),
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case ev := <-sink:
		assert.Equal(t, EventMarket, ev.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("adapter was not restarted after panic")
	}
	cancel()
	require.NoError(t, <-done)
	connects, _ := fa.counts()
	assert.Equal(t, 2, connects)
}

func TestSupervisor_ConnectTimeout(t *testing.T) {
	fa := newFake(domain.VenueKalshi)
	var connectErr error
	fa.connect = func(ctx context.Context, _ int) error {
		<-ctx.Done()
		connectErr = ctx.Err()
		return ctx.Err()
	}

	cfg := testConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := NewSupervisor(fa, cfg, make(chan Event), discardLogger(),
		WithSleep(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}))

	require.NoError(t, sup.Run(ctx))
	assert.ErrorIs(t, connectErr, context.DeadlineExceeded)
	assert.Equal(t, domain.VenueDegraded, sup.Status().State)
	assert.Contains(t, sup.Status().LastError, "connect")
}

func TestSupervisor_ResubscribesLiveSession(t *testing.T) {
	fa := newFake(domain.VenueKalshi)
	sup := NewSupervisor(fa, testConfig(), make(chan Event), discardLogger())

	first := []domain.Market{{Key: domain.MarketKey{Venue: domain.VenueKalshi, ID: "A"}}}
	sup.SetDesired(first)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case got := <-fa.subCh:
		assert.Equal(t, first, got)
	case <-time.After(5 * time.Second):
		t.Fatal("initial subscribe missing")
	}

	second := []domain.Market{
		{Key: domain.MarketKey{Venue: domain.VenueKalshi, ID: "A"}},
		{Key: domain.MarketKey{Venue: domain.VenueKalshi, ID: "B"}},
	}
	sup.SetDesired(second)
	select {
	case got := <-fa.subCh:
		assert.Equal(t, second, got)
	case <-time.After(5 * time.Second):
		t.Fatal("resubscribe missing")
	}
	assert.Equal(t, 2, sup.Status().Subscribed)

	cancel()
	require.NoError(t, <-done)
}
