// Package matcher pairs equivalent markets across venues. It scores every
// cross-venue pair on question text, resolution source, expiry and timezone
// and publishes the accepted pairs as an immutable Set.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	weightQuestion   = 0.35
	weightResolution = 0.30
	weightExpiry     = 0.25
	weightTimezone   = 0.10

	// riskFloor is the sub-score below which a component counts as a risk
	// factor.
	riskFloor = 0.6

	// sharedWordsCeiling is the highest question score two questions without a
	// common content word can reach.
	sharedWordsCeiling = weightSequence + weightNumbers
)

// Config holds matcher thresholds. A pair is accepted when its composite
// reaches Threshold; a weak question score is reported as a risk factor.
type Config struct {
	Threshold float64
	// MinQuestionSimilarity is an optional extra floor on the question
	// score. Zero disables it.
	MinQuestionSimilarity float64
	ExpiryTolerance       time.Duration
	ExpiryDecay           time.Duration
	TimezoneMissingScore  float64
	TimezonePenalty       float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:             0.70,
		MinQuestionSimilarity: 0,
		ExpiryTolerance:       time.Hour,
		ExpiryDecay:           7 * 24 * time.Hour,
		TimezoneMissingScore:  0.7,
		TimezonePenalty:       0.6,
	}
}

// Set is an immutable snapshot of accepted candidates.
type Set struct {
	Candidates []domain.MatchCandidate
	BuiltAt    time.Time

	byID     map[string]int
	byMarket map[domain.MarketKey][]int
}

// NewSet indexes an accepted candidate list.
func NewSet(cands []domain.MatchCandidate, at time.Time) *Set {
	s := &Set{
		Candidates: cands,
		BuiltAt:    at,
		byID:       make(map[string]int, len(cands)),
		byMarket:   make(map[domain.MarketKey][]int),
	}
	for i, c := range cands {
		s.byID[c.ID] = i
		s.byMarket[c.A] = append(s.byMarket[c.A], i)
		s.byMarket[c.B] = append(s.byMarket[c.B], i)
	}
	return s
}

// Len returns the number of candidates.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candidates)
}

// Get returns the candidate with the given id.
func (s *Set) Get(id string) (domain.MatchCandidate, bool) {
	if s == nil {
		return domain.MatchCandidate{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return domain.MatchCandidate{}, false
	}
	return s.Candidates[i], true
}

// ForMarket returns every candidate referencing k.
func (s *Set) ForMarket(k domain.MarketKey) []domain.MatchCandidate {
	if s == nil {
		return nil
	}
	idx := s.byMarket[k]
	out := make([]domain.MatchCandidate, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.Candidates[i])
	}
	return out
}

// MarketsByVenue returns the market ids referenced by the set, grouped by
// venue and sorted.
func (s *Set) MarketsByVenue() map[domain.VenueID][]string {
	out := make(map[domain.VenueID][]string)
	if s == nil {
		return out
	}
	for k := range s.byMarket {
		out[k.Venue] = append(out[k.Venue], k.ID)
	}
	for v := range out {
		sort.Strings(out[v])
	}
	return out
}

// ResolutionHook is told about a source change on a market used by accepted
// candidates.
type ResolutionHook func(ctx context.Context, change SourceChange, affected []domain.MatchCandidate)

// Matcher scores market pairs and holds the accepted set.
type Matcher struct {
	cfg     Config
	catalog *Catalog
	usable  func(domain.VenueID) bool
	logger  *slog.Logger
	now     func() time.Time

	accepted atomic.Pointer[Set]

	refreshMu sync.Mutex
	hookMu    sync.RWMutex
	onRefresh []func(*Set)
	onSource  []ResolutionHook
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// WithVenueFilter restricts matching to venues for which usable returns true.
func WithVenueFilter(usable func(domain.VenueID) bool) Option {
	return func(m *Matcher) { m.usable = usable }
}

// New creates a matcher over the catalog.
func New(cfg Config, catalog *Catalog, logger *slog.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		cfg:     cfg,
		catalog: catalog,
		logger:  logger.With(slog.String("component", "matcher")),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.accepted.Store(NewSet(nil, time.Time{}))
	return m
}

// Catalog returns the market catalog the matcher reads from.
func (m *Matcher) Catalog() *Catalog { return m.catalog }

// Current returns the latest accepted set. Never nil.
func (m *Matcher) Current() *Set {
	return m.accepted.Load()
}

// OnRefresh registers fn to be called with every newly published set.
func (m *Matcher) OnRefresh(fn func(*Set)) {
	m.hookMu.Lock()
	m.onRefresh = append(m.onRefresh, fn)
	m.hookMu.Unlock()
}

// OnResolutionChange registers a hook for source changes on matched markets.
func (m *Matcher) OnResolutionChange(fn ResolutionHook) {
	m.hookMu.Lock()
	m.onSource = append(m.onSource, fn)
	m.hookMu.Unlock()
}

// Upsert records discovered markets. A resolution-source change on a market
// that an accepted candidate uses is reported to the hooks and triggers an
// immediate recompute.
func (m *Matcher) Upsert(ctx context.Context, markets []domain.Market) error {
	changes := m.catalog.Upsert(markets)
	if len(changes) == 0 {
		return nil
	}

	cur := m.Current()
	recompute := false
	m.hookMu.RLock()
	hooks := append([]ResolutionHook(nil), m.onSource...)
	m.hookMu.RUnlock()
	for _, ch := range changes {
		affected := cur.ForMarket(ch.Market)
		m.logger.Warn("resolution source changed",
			slog.String("market", ch.Market.String()),
			slog.String("old", ch.Old),
			slog.String("new", ch.New),
			slog.Int("affected_candidates", len(affected)),
		)
		if len(affected) == 0 {
			continue
		}
		recompute = true
		for _, h := range hooks {
			h(ctx, ch, affected)
		}
	}
	if !recompute {
		return nil
	}
	_, err := m.Refresh(ctx)
	return err
}

// Refresh scores every cross-venue pair of active markets on usable venues
// and atomically publishes the accepted set.
func (m *Matcher) Refresh(ctx context.Context) (*Set, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := m.now()
	markets := m.catalog.Active(m.usable)
	feats := make([]questionFeatures, len(markets))
	for i, mk := range markets {
		feats[i] = featuresOf(mk.Question)
	}

	skipDisjoint := m.cfg.MinQuestionSimilarity > sharedWordsCeiling
	var (
		accepted []domain.MatchCandidate
		scored   int
	)
	for i := range markets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("matcher: refresh: %w", err)
		}
		for j := i + 1; j < len(markets); j++ {
			if markets[i].Key.Venue == markets[j].Key.Venue {
				continue
			}
			if skipDisjoint && !feats[i].sharesWords(feats[j]) {
				continue
			}
			scored++
			c := m.score(markets[i], markets[j], compareFeatures(feats[i], feats[j]), start)
			if c.Accepted {
				accepted = append(accepted, c)
			}
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		if accepted[i].Composite != accepted[j].Composite {
			return accepted[i].Composite > accepted[j].Composite
		}
		return accepted[i].ID < accepted[j].ID
	})

	set := NewSet(accepted, start)
	m.accepted.Store(set)

	m.logger.Info("match set refreshed",
		slog.Int("markets", len(markets)),
		slog.Int("pairs_scored", scored),
		slog.Int("accepted", len(accepted)),
		slog.Duration("took", m.now().Sub(start)),
	)

	m.hookMu.RLock()
	hooks := append(([]func(*Set))(nil), m.onRefresh...)
	m.hookMu.RUnlock()
	for _, h := range hooks {
		h(set)
	}
	return set, nil
}

// Score evaluates a single pair without touching the accepted set.
func (m *Matcher) Score(a, b domain.Market) domain.MatchCandidate {
	return m.score(a, b, CompareQuestions(a.Question, b.Question), m.now())
}

func (m *Matcher) score(a, b domain.Market, q QuestionDetail, at time.Time) domain.MatchCandidate {
	if b.Key.String() < a.Key.String() {
		a, b = b, a
	}

	var warnings, risks []string

	question := q.Score()
	if question < riskFloor {
		risks = append(risks, fmt.Sprintf("low question similarity: %.0f%%", question*100))
	}

	resolution, w := ResolutionCompatibility(a, b)
	warnings = append(warnings, w...)
	if resolution < riskFloor {
		risks = append(risks, fmt.Sprintf("low resolution compatibility: %.0f%%", resolution*100))
	}

	expiry, w := ExpiryAlignment(a.Expiry, b.Expiry, m.cfg.ExpiryTolerance, m.cfg.ExpiryDecay)
	warnings = append(warnings, w...)
	if expiry < riskFloor {
		risks = append(risks, fmt.Sprintf("low expiry alignment: %.0f%%", expiry*100))
	}

	tz, w := TimezoneAlignment(a, b, m.cfg.TimezoneMissingScore, m.cfg.TimezonePenalty)
	warnings = append(warnings, w...)

	composite := question*weightQuestion + resolution*weightResolution +
		expiry*weightExpiry + tz*weightTimezone

	return domain.MatchCandidate{
		ID:          domain.PairID(a.Key, b.Key),
		A:           a.Key,
		B:           b.Key,
		Scores:      domain.SubScores{Question: question, Resolution: resolution, Expiry: expiry, Timezone: tz},
		Composite:   composite,
		Accepted:    composite >= m.cfg.Threshold && question >= m.cfg.MinQuestionSimilarity,
		Confidence:  Confidence(composite, len(risks), len(warnings)),
		Warnings:    warnings,
		RiskFactors: risks,
		ComputedAt:  at,
	}
}

// Confidence discounts a composite score by 10% per risk factor and 5% per
// warning, clamped to [0,1].
func Confidence(composite float64, risks, warnings int) float64 {
	c := composite * math.Max(0, 1-0.1*float64(risks)) * math.Max(0, 1-0.05*float64(warnings))
	return math.Max(0, math.Min(1, c))
}
