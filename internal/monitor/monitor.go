// Package monitor watches for execution and data-quality edge cases and raises
// rate-limited, severity-tagged alerts.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/matcher"
)

// Redis destinations for alerts.
const (
	AlertChannel = "ch:alert"
	AlertStream  = "stream:alerts"
)

// Config controls the monitor.
type Config struct {
	Thresholds
	AlertLimit  int // alerts per key per window
	AlertWindow time.Duration
	Buffer      int
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		Thresholds:  DefaultThresholds(),
		AlertLimit:  1,
		AlertWindow: time.Minute,
		Buffer:      256,
	}
}

// Stats are alert totals since start.
type Stats struct {
	Total       int64                                         `json:"total"`
	ByDetector  map[domain.Detector]int64                     `json:"by_detector"`
	BySeverity  map[domain.Severity]int64                     `json:"by_severity"`
	Matrix      map[domain.Detector]map[domain.Severity]int64 `json:"matrix"`
	RateLimited int64                                         `json:"rate_limited"`
	Dropped     int64                                         `json:"dropped"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBus publishes every delivered alert on AlertChannel and appends it to
// AlertStream.
func WithBus(bus domain.SignalBus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithClock overrides the alert timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithIDs overrides alert id generation.
func WithIDs(next func() string) Option {
	return func(m *Monitor) { m.newID = next }
}

// Monitor runs the detectors. Detector entry points never block: findings
// are queued and a single loop rate-limits, publishes and forwards them.
type Monitor struct {
	cfg     Config
	limiter domain.RateLimiter
	bus     domain.SignalBus
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	in  chan domain.Alert
	out chan domain.Alert

	mu     sync.Mutex
	matrix map[domain.Detector]map[domain.Severity]int64

	rateLimited atomic.Int64
	dropped     atomic.Int64
}

// New creates a monitor. limiter is either a LocalLimiter or the Redis
// sliding-window limiter.
func New(cfg Config, limiter domain.RateLimiter, logger *slog.Logger, opts ...Option) *Monitor {
	if cfg.Buffer < 1 {
		cfg.Buffer = 1
	}
	m := &Monitor{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "monitor")),
		now:     time.Now,
		newID:   uuid.NewString,
		in:      make(chan domain.Alert, cfg.Buffer),
		out:     make(chan domain.Alert, cfg.Buffer),
		matrix:  make(map[domain.Detector]map[domain.Severity]int64),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Alerts is the delivered alert stream. It is closed when Run returns.
func (m *Monitor) Alerts() <-chan domain.Alert { return m.out }

// Run delivers queued alerts until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.out)
	m.logger.Info("monitor started")
	defer m.logger.Info("monitor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-m.in:
			m.deliver(ctx, a)
		}
	}
}

func (m *Monitor) deliver(ctx context.Context, a domain.Alert) {
	allowed, err := m.limiter.Allow(ctx, string(a.Detector)+":"+a.Key, m.cfg.AlertLimit, m.cfg.AlertWindow)
	if err != nil {
		// The limiter is only a noise filter; an unreachable backend lets the
		// alert through.
		m.logger.Warn("alert rate limiter failed", slog.String("error", err.Error()))
		allowed = true
	}
	if !allowed {
		m.rateLimited.Add(1)
		return
	}

	m.mu.Lock()
	bySev, ok := m.matrix[a.Detector]
	if !ok {
		bySev = make(map[domain.Severity]int64)
		m.matrix[a.Detector] = bySev
	}
	bySev[a.Severity]++
	m.mu.Unlock()

	m.logger.Warn("alert",
		slog.String("id", a.ID),
		slog.String("detector", string(a.Detector)),
		slog.String("severity", string(a.Severity)),
		slog.String("key", a.Key),
		slog.String("message", a.Message),
	)

	if m.bus != nil {
		m.publish(ctx, a)
	}

	select {
	case m.out <- a:
	case <-ctx.Done():
	}
}

func (m *Monitor) publish(ctx context.Context, a domain.Alert) {
	payload, err := json.Marshal(a)
	if err != nil {
		m.logger.Error("alert marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := m.bus.Publish(ctx, AlertChannel, payload); err != nil {
		m.logger.Warn("alert publish failed", slog.String("error", err.Error()))
	}
	if err := m.bus.StreamAppend(ctx, AlertStream, payload); err != nil {
		m.logger.Warn("alert stream append failed", slog.String("error", err.Error()))
	}
}

// raise queues an alert. A full queue drops it.
func (m *Monitor) raise(a domain.Alert) {
	a.ID = m.newID()
	a.At = m.now()
	select {
	case m.in <- a:
	default:
		m.dropped.Add(1)
	}
}

// ObserveSlippage compares an expected execution price with the observed one.
func (m *Monitor) ObserveSlippage(_ context.Context, market domain.MarketKey, expected, observed decimal.Decimal) bool {
	slip, sev, ok := m.cfg.Slippage(expected, observed)
	if !ok {
		return false
	}
	m.raise(domain.Alert{
		Detector: domain.DetectorSlippage,
		Severity: sev,
		Key:      market.String(),
		Markets:  []domain.MarketKey{market},
		Message:  fmt.Sprintf("slippage %s%% on %s", pct(slip), market),
		Values: map[string]string{
			"expected": expected.String(),
			"observed": observed.String(),
			"slippage": slip.StringFixed(6),
		},
	})
	return true
}

// ObserveFill checks a leg fill for a partial fill and, when an average price
// is known, for slippage against the leg's quoted price.
func (m *Monitor) ObserveFill(ctx context.Context, f domain.Fill) bool {
	raised := false
	if ratio, sev, ok := m.cfg.PartialFill(f); ok {
		m.raise(domain.Alert{
			Detector: domain.DetectorPartialFill,
			Severity: sev,
			Key:      f.Leg.Market.String(),
			Markets:  []domain.MarketKey{f.Leg.Market},
			Message:  fmt.Sprintf("only %s%% of %s filled on %s", pct(ratio), f.Requested, f.Leg.Market),
			Values: map[string]string{
				"requested":  f.Requested.String(),
				"filled":     f.Filled.String(),
				"fill_ratio": ratio.StringFixed(4),
			},
		})
		raised = true
	}
	if f.AvgPrice.IsPositive() && f.Filled.IsPositive() {
		if m.ObserveSlippage(ctx, f.Leg.Market, f.Leg.Price, f.AvgPrice) {
			raised = true
		}
	}
	return raised
}

// ResolutionChanged is a matcher.ResolutionHook. The matcher recomputes its
// accepted set itself.
func (m *Monitor) ResolutionChanged(_ context.Context, ch matcher.SourceChange, affected []domain.MatchCandidate) {
	markets := []domain.MarketKey{ch.Market}
	ids := make([]string, 0, len(affected))
	for _, c := range affected {
		ids = append(ids, c.ID)
		other := c.A
		if other == ch.Market {
			other = c.B
		}
		markets = append(markets, other)
	}
	sort.Strings(ids)
	m.raise(domain.Alert{
		Detector: domain.DetectorResolutionChange,
		Severity: domain.SeverityCritical,
		Key:      ch.Market.String(),
		Markets:  markets,
		Message:  fmt.Sprintf("resolution source of %s changed from %q to %q", ch.Market, ch.Old, ch.New),
		Values: map[string]string{
			"old":     ch.Old,
			"new":     ch.New,
			"matches": strings.Join(ids, ","),
		},
	})
}

// PriceGap implements scanner.Observer.
func (m *Monitor) PriceGap(_ context.Context, opp domain.Opportunity) {
	m.raise(domain.Alert{
		Detector: domain.DetectorPriceGap,
		Severity: domain.SeverityHigh,
		Key:      opp.MatchID,
		Markets:  []domain.MarketKey{opp.Legs[0].Market, opp.Legs[1].Market},
		Message:  fmt.Sprintf("implausible ROI %s%% on %s suppressed", opp.ROI.StringFixed(2), opp.MatchID),
		Values: map[string]string{
			"roi":        opp.ROI.StringFixed(4),
			"total_cost": opp.TotalCost.String(),
			"price_a":    opp.Legs[0].Price.String(),
			"price_b":    opp.Legs[1].Price.String(),
			"direction":  opp.Direction,
		},
	})
}

// Quotes implements scanner.Observer. It compares the YES mid on both venues.
func (m *Monitor) Quotes(_ context.Context, c domain.MatchCandidate, a, b domain.OrderbookSnapshot) {
	ma, mb := a.Yes.Mid(), b.Yes.Mid()
	div, ok := m.cfg.Divergence(ma, mb)
	if !ok {
		return
	}
	m.raise(domain.Alert{
		Detector: domain.DetectorPriceDivergence,
		Severity: domain.SeverityLow,
		Key:      c.ID,
		Markets:  []domain.MarketKey{c.A, c.B},
		Message:  fmt.Sprintf("YES mid differs by %s%% between %s and %s", pct(div), c.A, c.B),
		Values: map[string]string{
			"mid_a":      ma.String(),
			"mid_b":      mb.String(),
			"divergence": div.StringFixed(4),
		},
	})
}

// Stats returns a copy of the alert totals.
func (m *Monitor) Stats() Stats {
	s := Stats{
		ByDetector:  make(map[domain.Detector]int64),
		BySeverity:  make(map[domain.Severity]int64),
		Matrix:      make(map[domain.Detector]map[domain.Severity]int64),
		RateLimited: m.rateLimited.Load(),
		Dropped:     m.dropped.Load(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for det, bySev := range m.matrix {
		row := make(map[domain.Severity]int64, len(bySev))
		for sev, n := range bySev {
			row[sev] = n
			s.ByDetector[det] += n
			s.BySeverity[sev] += n
			s.Total += n
		}
		s.Matrix[det] = row
	}
	return s
}

// LogStats writes the totals at info level.
func (m *Monitor) LogStats() {
	s := m.Stats()
	attrs := []any{
		slog.Int64("total", s.Total),
		slog.Int64("rate_limited", s.RateLimited),
		slog.Int64("dropped", s.Dropped),
	}
	for det, n := range s.ByDetector {
		attrs = append(attrs, slog.Int64(string(det), n))
	}
	m.logger.Info("alert stats", attrs...)
}

func pct(ratio decimal.Decimal) string {
	return ratio.Mul(decimal.NewFromInt(100)).StringFixed(2)
}
