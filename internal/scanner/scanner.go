// Package scanner turns accepted market matches and live order books into
// fee-adjusted cross-venue opportunities.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/matcher"
	"github.com/alanyoungcy/crossarb/internal/orderbook"
)

// Config controls scanning.
type Config struct {
	SweepInterval time.Duration
	Debounce      time.Duration
	SizeBasis     decimal.Decimal // contracts used to amortize fixed fees
	BucketWidth   decimal.Decimal
	MinROI        decimal.Decimal // percent
	SanityCeiling decimal.Decimal // percent; zero disables
	OutputBuffer  int
	NotifyBuffer  int
	DedupTTL      time.Duration
}

// DefaultConfig returns the standard scanner settings.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		Debounce:      250 * time.Millisecond,
		SizeBasis:     decimal.NewFromInt(100),
		BucketWidth:   decimal.RequireFromString("0.005"),
		SanityCeiling: decimal.NewFromInt(25),
		OutputBuffer:  256,
		NotifyBuffer:  1024,
		DedupTTL:      30 * time.Minute,
	}
}

// Books is the order book view the scanner reads.
type Books interface {
	Get(k domain.MarketKey) (orderbook.Entry, bool)
	Subscribe(buffer int) (<-chan domain.MarketKey, func())
}

// Matches supplies the accepted candidate set.
type Matches interface {
	Current() *matcher.Set
}

// Observer is told about computations the monitor cares about.
type Observer interface {
	// PriceGap receives an opportunity whose ROI is implausibly high. It is
	// not emitted.
	PriceGap(ctx context.Context, opp domain.Opportunity)
	// Quotes receives both fresh books of every evaluated candidate.
	Quotes(ctx context.Context, c domain.MatchCandidate, a, b domain.OrderbookSnapshot)
}

// Stats are scanner counters.
type Stats struct {
	Evaluated  uint64 `json:"evaluated"`
	Emitted    uint64 `json:"emitted"`
	Stale      uint64 `json:"stale"`
	Unusable   uint64 `json:"unusable"`
	UnknownFee uint64 `json:"unknown_fee"`
	Invalid    uint64 `json:"invalid"`
	Suppressed uint64 `json:"suppressed"`
	Open       int    `json:"open"`
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithVenueFilter skips candidates with a leg on a venue for which usable
// returns false.
func WithVenueFilter(usable func(domain.VenueID) bool) Option {
	return func(s *Scanner) { s.usable = usable }
}

// WithObserver attaches the edge-case observer.
func WithObserver(o Observer) Option {
	return func(s *Scanner) { s.observer = o }
}

// WithClock overrides the time source for detection timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// WithIDs overrides opportunity id generation.
func WithIDs(next func() string) Option {
	return func(s *Scanner) { s.newID = next }
}

// Scanner evaluates candidates on book changes (debounced) and on a periodic
// full sweep.
type Scanner struct {
	cfg      Config
	books    Books
	matches  Matches
	fees     FeeQuoter
	usable   func(domain.VenueID) bool
	observer Observer
	dedup    *Dedup
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	out      chan domain.Opportunity

	evaluated  atomic.Uint64
	emitted    atomic.Uint64
	stale      atomic.Uint64
	unusable   atomic.Uint64
	unknownFee atomic.Uint64
	invalid    atomic.Uint64
	suppressed atomic.Uint64
}

// New creates a scanner.
func New(cfg Config, books Books, matches Matches, fees FeeQuoter, logger *slog.Logger, opts ...Option) *Scanner {
	if cfg.OutputBuffer < 1 {
		cfg.OutputBuffer = 1
	}
	s := &Scanner{
		cfg:     cfg,
		books:   books,
		matches: matches,
		fees:    fees,
		usable:  func(domain.VenueID) bool { return true },
		dedup:   NewDedup(cfg.DedupTTL),
		logger:  logger.With(slog.String("component", "scanner")),
		now:     time.Now,
		newID:   uuid.NewString,
		out:     make(chan domain.Opportunity, cfg.OutputBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	s.dedup.now = s.now
	return s
}

// Opportunities is the emission stream. It is closed when Run returns.
func (s *Scanner) Opportunities() <-chan domain.Opportunity { return s.out }

// Dedup exposes the emission memory for periodic cleanup.
func (s *Scanner) Dedup() *Dedup { return s.dedup }

// Run scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	defer close(s.out)

	keys, cancel := s.books.Subscribe(s.cfg.NotifyBuffer)
	defer cancel()

	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	var (
		dirty = make(map[domain.MarketKey]struct{})
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	s.logger.Info("scanner started",
		slog.Duration("sweep", s.cfg.SweepInterval),
		slog.Duration("debounce", s.cfg.Debounce),
	)
	defer s.logger.Info("scanner stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			if len(s.matches.Current().ForMarket(k)) == 0 {
				continue
			}
			dirty[k] = struct{}{}
			if fire == nil {
				timer = time.NewTimer(s.cfg.Debounce)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			batch := make([]domain.MarketKey, 0, len(dirty))
			for k := range dirty {
				batch = append(batch, k)
			}
			dirty = make(map[domain.MarketKey]struct{})
			s.ScanMarkets(ctx, batch)
		case <-sweep.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every accepted candidate and returns how many opportunities
// were emitted.
func (s *Scanner) Sweep(ctx context.Context) int {
	n := 0
	for _, c := range s.matches.Current().Candidates {
		if ctx.Err() != nil {
			break
		}
		if s.Evaluate(ctx, c) {
			n++
		}
	}
	return n
}

// ScanMarkets evaluates each candidate touching one of keys once.
func (s *Scanner) ScanMarkets(ctx context.Context, keys []domain.MarketKey) int {
	set := s.matches.Current()
	done := make(map[string]bool)
	n := 0
	for _, k := range keys {
		for _, c := range set.ForMarket(k) {
			if done[c.ID] {
				continue
			}
			done[c.ID] = true
			if s.Evaluate(ctx, c) {
				n++
			}
		}
	}
	return n
}

// Evaluate prices one candidate and emits the result when it is valid, above
// the minimum ROI, plausible and not a repeat. It reports whether an
// opportunity was emitted.
func (s *Scanner) Evaluate(ctx context.Context, c domain.MatchCandidate) bool {
	if !c.Accepted {
		return false
	}
	if !s.usable(c.A.Venue) || !s.usable(c.B.Venue) {
		s.unusable.Add(1)
		return false
	}
	ea, okA := s.books.Get(c.A)
	eb, okB := s.books.Get(c.B)
	if !okA || !okB {
		return false
	}
	if ea.Stale || eb.Stale {
		s.stale.Add(1)
		return false
	}
	s.evaluated.Add(1)
	if s.observer != nil {
		s.observer.Quotes(ctx, c, ea.Snapshot, eb.Snapshot)
	}

	opp, err := Price(c, ea.Snapshot, eb.Snapshot, s.fees, s.cfg.SizeBasis)
	switch {
	case errors.Is(err, domain.ErrUnknownFee):
		s.unknownFee.Add(1)
		s.logger.Debug("opportunity dropped, unknown fee",
			slog.String("match", c.ID),
			slog.String("error", err.Error()),
		)
		return false
	case err != nil:
		s.dedup.Close(c.ID)
		return false
	}

	if !opp.Valid {
		s.invalid.Add(1)
		s.dedup.Close(c.ID)
		return false
	}
	if s.cfg.SanityCeiling.IsPositive() && opp.ROI.GreaterThan(s.cfg.SanityCeiling) {
		s.suppressed.Add(1)
		s.dedup.Close(c.ID)
		opp.DetectedAt = s.now()
		if s.observer != nil {
			s.observer.PriceGap(ctx, opp)
		}
		return false
	}
	if opp.ROI.LessThan(s.cfg.MinROI) {
		s.dedup.Close(c.ID)
		return false
	}

	opp.Bucket = Bucket(opp, s.cfg.BucketWidth)
	if !s.dedup.ShouldEmit(c.ID, opp.Bucket) {
		return false
	}
	opp.ID = s.newID()
	opp.DetectedAt = s.now()

	select {
	case s.out <- opp:
	case <-ctx.Done():
		s.dedup.Close(c.ID)
		return false
	}
	s.emitted.Add(1)
	s.logger.Debug("opportunity",
		slog.String("id", opp.ID),
		slog.String("match", opp.MatchID),
		slog.String("direction", opp.Direction),
		slog.String("total_cost", opp.TotalCost.String()),
		slog.String("roi", opp.ROI.StringFixed(3)),
	)
	return true
}

// Stats returns a snapshot of the counters.
func (s *Scanner) Stats() Stats {
	return Stats{
		Evaluated:  s.evaluated.Load(),
		Emitted:    s.emitted.Load(),
		Stale:      s.stale.Load(),
		Unusable:   s.unusable.Load(),
		UnknownFee: s.unknownFee.Load(),
		Invalid:    s.invalid.Load(),
		Suppressed: s.suppressed.Load(),
		Open:       s.dedup.Len(),
	}
}
