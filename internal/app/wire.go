package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/cache/redis"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/feed"
	"github.com/alanyoungcy/crossarb/internal/fees"
	"github.com/alanyoungcy/crossarb/internal/hedge"
	"github.com/alanyoungcy/crossarb/internal/matcher"
	"github.com/alanyoungcy/crossarb/internal/monitor"
	"github.com/alanyoungcy/crossarb/internal/orderbook"
	"github.com/alanyoungcy/crossarb/internal/platform/kalshi"
	"github.com/alanyoungcy/crossarb/internal/platform/opinion"
	"github.com/alanyoungcy/crossarb/internal/platform/polymarket"
	"github.com/alanyoungcy/crossarb/internal/scanner"
	"github.com/alanyoungcy/crossarb/internal/scheduler"
	"github.com/alanyoungcy/crossarb/internal/session"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

// Dependencies bundles the engine components. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	Venues    *venue.Manager
	Books     *orderbook.Cache
	Catalog   *matcher.Catalog
	Matcher   *matcher.Matcher
	Fees      *fees.Registry
	Feeder    *feed.Feeder
	Scanner   *scanner.Scanner
	Monitor   *monitor.Monitor
	Sessions  *session.Manager
	Hedge     *hedge.Calculator
	Scheduler *scheduler.Scheduler

	// Limiter backs alert and API rate limits: Redis when available,
	// in-process otherwise.
	Limiter domain.RateLimiter
	// Bus is nil when Redis is disabled or unreachable.
	Bus domain.SignalBus
}

// Wire constructs every component from cfg, connects their hooks and
// registers the scheduled jobs.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Limiter: monitor.NewLocalLimiter()}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			logger.Warn("redis unavailable, publishing disabled",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		} else {
			closers = append(closers, func() { _ = rc.Close() })
			deps.Bus = redis.NewSignalBus(rc)
			deps.Limiter = redis.NewRateLimiter(rc)
		}
	}

	// --- Venues ---
	adapters, err := buildAdapters(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	sup := cfg.Supervisor
	deps.Venues = venue.NewManager(adapters, venue.SupervisorConfig{
		BaseDelay:        sup.BaseDelay.Duration,
		MaxDelay:         sup.MaxDelay.Duration,
		Jitter:           sup.Jitter,
		ConnectTimeout:   sup.ConnectTimeout.Duration,
		FailureThreshold: sup.FailureThreshold,
		FailureWindow:    sup.FailureWindow.Duration,
	}, sup.EventBuffer, logger)

	// --- Market data ---
	deps.Books = orderbook.New(cfg.Cache.StaleAfter.Duration)
	deps.Fees = fees.NewRegistry(cfg.Scanner.GasMultiplier, feeSchedules(cfg)...)
	deps.Catalog = matcher.NewCatalog()
	mc := cfg.Matcher
	deps.Matcher = matcher.New(matcher.Config{
		Threshold:             mc.Threshold,
		MinQuestionSimilarity: mc.MinQuestionSimilarity,
		ExpiryTolerance:       mc.ExpiryTolerance.Duration,
		ExpiryDecay:           mc.ExpiryDecay.Duration,
		TimezoneMissingScore:  mc.TimezoneMissingScore,
		TimezonePenalty:       mc.TimezonePenalty,
	}, deps.Catalog, logger, matcher.WithVenueFilter(deps.Venues.Usable))
	deps.Feeder = feed.NewFeeder(deps.Venues.Events(), deps.Books, deps.Matcher, logger)

	// --- Detection ---
	mon := cfg.Monitor
	var monOpts []monitor.Option
	if deps.Bus != nil {
		monOpts = append(monOpts, monitor.WithBus(deps.Bus))
	}
	deps.Monitor = monitor.New(monitor.Config{
		Thresholds: monitor.Thresholds{
			SlippageCritical:    mon.SlippageCritical,
			SlippageHigh:        mon.SlippageHigh,
			MinFillRatio:        mon.MinFillRatio,
			LowFillRatio:        mon.LowFillRatio,
			DivergenceThreshold: mon.DivergenceThreshold,
		},
		AlertLimit:  mon.AlertLimit,
		AlertWindow: mon.AlertWindow.Duration,
		Buffer:      cfg.Scanner.OutputBuffer,
	}, deps.Limiter, logger, monOpts...)

	sc := cfg.Scanner
	scCfg := scanner.DefaultConfig()
	scCfg.SweepInterval = sc.SweepInterval.Duration
	scCfg.Debounce = sc.Debounce.Duration
	scCfg.SizeBasis = sc.SizeBasis
	scCfg.BucketWidth = sc.BucketWidth
	scCfg.MinROI = sc.MinROI
	scCfg.SanityCeiling = sc.SanityCeiling
	scCfg.OutputBuffer = sc.OutputBuffer
	scCfg.NotifyBuffer = cfg.Cache.NotifyBuffer
	deps.Scanner = scanner.New(scCfg, deps.Books, deps.Matcher, deps.Fees, logger,
		scanner.WithVenueFilter(deps.Venues.Usable),
		scanner.WithObserver(deps.Monitor),
		scanner.WithIDs(uuid.NewString),
	)
	deps.Hedge = hedge.NewCalculator(deps.Fees, mon.HedgeMaxSlippagePct)

	// --- Sessions ---
	var sessOpts []session.Option
	if deps.Bus != nil {
		sessOpts = append(sessOpts, session.WithBus(deps.Bus))
	}
	deps.Sessions = session.NewManager(cfg.Session.QueueSize, deps.Venues, logger, sessOpts...)

	// --- Hooks ---
	deps.Matcher.OnRefresh(func(set *matcher.Set) {
		deps.Venues.Subscribe(scheduler.Subscriptions(set, deps.Catalog.Get))
	})
	deps.Matcher.OnResolutionChange(deps.Monitor.ResolutionChanged)
	deps.Venues.OnStateChange(deps.Sessions.VenueChanged)
	deps.Venues.OnStateChange(func(st domain.VenueStatus) {
		if st.State == domain.VenueDisconnected {
			if n := deps.Books.RemoveVenue(st.ID); n > 0 {
				logger.Info("books dropped for disconnected venue",
					slog.String("venue", string(st.ID)),
					slog.Int("count", n),
				)
			}
		}
	})

	// --- Schedule ---
	deps.Scheduler, err = buildScheduler(cfg, deps, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	// Matching skips venues that are not usable, so the set built while
	// venues were still connecting is empty until the next refresh.
	deps.Venues.OnStateChange(refreshOnLive(deps.Scheduler, logger))

	return deps, cleanup, nil
}

// refreshOnLive recomputes the match set whenever a venue becomes live.
func refreshOnLive(s *scheduler.Scheduler, logger *slog.Logger) func(domain.VenueStatus) {
	return func(st domain.VenueStatus) {
		if st.State != domain.VenueLive {
			return
		}
		if err := s.TriggerAsync(scheduler.JobMatchRefresh); err != nil {
			logger.Warn("match refresh on venue live", slog.String("error", err.Error()))
		}
	}
}

// buildAdapters creates one adapter per enabled venue.
func buildAdapters(cfg *config.Config, logger *slog.Logger) ([]venue.Adapter, error) {
	var out []venue.Adapter

	if k := cfg.Venues.Kalshi; k.Enabled {
		client := kalshi.NewClient(k.BaseURL, nil)
		var auth kalshi.Authenticator
		if k.ApiKey != "" && k.RsaPrivateKeyPath != "" {
			pemBytes, err := os.ReadFile(k.RsaPrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("kalshi: read private key: %w", err)
			}
			key, err := kalshi.ParseRSAPrivateKey(pemBytes)
			if err != nil {
				return nil, err
			}
			auth = kalshi.NewRSASigner(k.ApiKey, key)
		} else {
			auth = kalshi.NewTokenAuth(k.Email, k.Password, client.Login)
		}
		client.SetAuthenticator(auth)
		out = append(out, feed.NewKalshiAdapter(client, auth, k.WsURL, k.MaxMarkets, k.Timezone, logger))
	}

	if p := cfg.Venues.Polymarket; p.Enabled {
		out = append(out, feed.NewPolymarketAdapter(polymarket.NewGammaClient(p.GammaHost), p.WsHost, p.MaxMarkets, p.Timezone, logger))
	}

	if o := cfg.Venues.Opinion; o.Enabled {
		client := opinion.NewClient(o.BaseURL, o.ApiKey, o.RequestsPerSecond, logger)
		base := feeSchedule(domain.VenueOpinion, cfg.Fees[string(domain.VenueOpinion)])
		out = append(out, feed.NewOpinionAdapter(client, o.PollInterval.Duration, o.MaxMarkets, o.Timezone, base, logger))
	}

	return out, nil
}

// feeSchedules converts the configured fee tables. Venues without a table
// have no schedule until a live refresh installs one.
func feeSchedules(cfg *config.Config) []domain.FeeSchedule {
	out := make([]domain.FeeSchedule, 0, len(cfg.Fees))
	for name, f := range cfg.Fees {
		out = append(out, feeSchedule(domain.VenueID(name), f))
	}
	return out
}

func feeSchedule(v domain.VenueID, f config.FeeConfig) domain.FeeSchedule {
	return domain.FeeSchedule{
		Venue:          v,
		TakerRate:      f.TakerRate,
		MakerRate:      f.MakerRate,
		MaxPerContract: f.MaxPerContract,
		FixedPerOrder:  f.FixedPerOrder,
		GasPerOrder:    f.GasPerOrder,
		GasMax:         f.GasMax,
	}
}

// buildScheduler registers the periodic jobs.
func buildScheduler(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*scheduler.Scheduler, error) {
	s := scheduler.New(logger)
	var sources []fees.Source
	for _, fs := range deps.Venues.FeeSources() {
		sources = append(sources, fs)
	}

	jobs := []struct {
		name, spec string
		fn         scheduler.JobFunc
	}{
		{scheduler.JobDiscovery, cfg.Matcher.DiscoveryCron, scheduler.Discovery(deps.Venues, deps.Matcher, deps.Catalog, logger)},
		{scheduler.JobMatchRefresh, cfg.Matcher.RefreshCron, scheduler.MatchRefresh(deps.Matcher)},
		{scheduler.JobFeeRefresh, cfg.Matcher.DiscoveryCron, scheduler.FeeRefresh(deps.Fees, sources, logger)},
		{scheduler.JobDedupCleanup, "@every 1m", scheduler.DedupCleanup(deps.Scanner.Dedup(), deps.Matcher, logger)},
		{scheduler.JobStatsReport, cfg.Monitor.StatsCron, scheduler.Stats(deps.Monitor.LogStats, func() {
			fs, cs, ss := deps.Feeder.Stats(), deps.Books.Stats(), deps.Scanner.Stats()
			logger.Info("engine stats",
				slog.Int("books", cs.Markets),
				slog.Uint64("book_updates", cs.Updates),
				slog.Uint64("stale_sequences", cs.Rejected),
				slog.Uint64("metadata_events", fs.Metadata),
				slog.Int("matches", deps.Matcher.Current().Len()),
				slog.Uint64("evaluated", ss.Evaluated),
				slog.Uint64("emitted", ss.Emitted),
				slog.Int("open_opportunities", ss.Open),
			)
		})},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if err := s.Add(j.name, j.spec, j.fn); err != nil {
			return nil, err
		}
	}
	return s, nil
}
