package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/monitor"
	"github.com/alanyoungcy/crossarb/internal/scheduler"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Venues.Kalshi.Email = "ops@example.com"
	cfg.Venues.Kalshi.Password = "secret"
	return &cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWire_BuildsEngineWithoutNetwork(t *testing.T) {
	cfg := testConfig()
	cfg.Venues.Opinion.Enabled = true

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.ElementsMatch(t,
		[]domain.VenueID{domain.VenueKalshi, domain.VenuePolymarket, domain.VenueOpinion},
		deps.Venues.Venues())
	assert.IsType(t, &monitor.LocalLimiter{}, deps.Limiter)
	assert.Nil(t, deps.Bus)

	var names []string
	for _, j := range deps.Scheduler.Stats() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{
		scheduler.JobDedupCleanup,
		scheduler.JobDiscovery,
		scheduler.JobFeeRefresh,
		scheduler.JobMatchRefresh,
		scheduler.JobStatsReport,
	}, names)

	_, err = deps.Fees.Schedule(domain.VenueKalshi)
	assert.NoError(t, err)
}

func TestWire_RedisUnreachableFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.MaxRetries = -1

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Bus)
	assert.IsType(t, &monitor.LocalLimiter{}, deps.Limiter)
}

func TestWire_MissingKalshiKey(t *testing.T) {
	cfg := testConfig()
	cfg.Venues.Kalshi.ApiKey = "key-id"
	cfg.Venues.Kalshi.RsaPrivateKeyPath = t.TempDir() + "/missing.pem"

	_, _, err := Wire(context.Background(), cfg, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kalshi: read private key")
}

func TestWire_SkipsEmptySchedules(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.StatsCron = ""

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	for _, j := range deps.Scheduler.Stats() {
		assert.NotEqual(t, scheduler.JobStatsReport, j.Name)
	}
}

func TestRefreshOnLive(t *testing.T) {
	s := scheduler.New(discard())
	var runs atomic.Int64
	require.NoError(t, s.Add(scheduler.JobMatchRefresh, "@every 1h", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	hook := refreshOnLive(s, discard())

	hook(domain.VenueStatus{ID: domain.VenueKalshi, State: domain.VenueConnecting})
	hook(domain.VenueStatus{ID: domain.VenueKalshi, State: domain.VenueDisconnected})
	hook(domain.VenueStatus{ID: domain.VenueKalshi, State: domain.VenueLive})

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return runs.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSessionDefaults(t *testing.T) {
	cfg := testConfig()
	a := New(cfg, discard())

	def := a.sessionDefaults()
	assert.True(t, def.MinROI.Equal(cfg.Session.DefaultMinROI))
	assert.True(t, def.MaxPosition.Equal(cfg.Session.DefaultMaxPosition))
	assert.Equal(t, []domain.VenueID{"polymarket", "kalshi", "opinion"}, def.Venues)

	cfg.Session.DefaultVenues = nil
	assert.Equal(t, []domain.VenueID{"kalshi", "polymarket"}, a.sessionDefaults().Venues)
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "trade"
	a := New(cfg, discard())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "trade"`)
}

func TestClean(t *testing.T) {
	assert.NoError(t, clean(nil))
	assert.NoError(t, clean(fmt.Errorf("run: %w", context.Canceled)))
	assert.EqualError(t, clean(assert.AnError), assert.AnError.Error())
}
