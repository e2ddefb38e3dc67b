package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/fees"
	"github.com/alanyoungcy/crossarb/internal/matcher"
)

// Job names.
const (
	JobDiscovery    = "discovery"
	JobMatchRefresh = "match_refresh"
	JobFeeRefresh   = "fee_refresh"
	JobDedupCleanup = "dedup_cleanup"
	JobStatsReport  = "stats"
)

// Discoverer lists markets across venues.
type Discoverer interface {
	Discover(ctx context.Context) ([]domain.Market, error)
}

// MatchIndex is the matcher surface the jobs drive.
type MatchIndex interface {
	Upsert(ctx context.Context, markets []domain.Market) error
	Refresh(ctx context.Context) (*matcher.Set, error)
	Current() *matcher.Set
}

// Pruner drops markets a venue no longer lists.
type Pruner interface {
	Prune(v domain.VenueID, keep []domain.Market) int
}

// Discovery lists markets, records them, prunes delisted ones and recomputes
// the match set.
func Discovery(venues Discoverer, index MatchIndex, catalog Pruner, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		markets, err := venues.Discover(ctx)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		if err := index.Upsert(ctx, markets); err != nil {
			return fmt.Errorf("discovery: upsert: %w", err)
		}
		byVenue := make(map[domain.VenueID][]domain.Market)
		for _, m := range markets {
			byVenue[m.Key.Venue] = append(byVenue[m.Key.Venue], m)
		}
		// A venue that failed discovery lists nothing and keeps its markets.
		for v, keep := range byVenue {
			if n := catalog.Prune(v, keep); n > 0 {
				logger.Info("delisted markets pruned", slog.String("venue", string(v)), slog.Int("count", n))
			}
		}
		if _, err := index.Refresh(ctx); err != nil {
			return fmt.Errorf("discovery: refresh: %w", err)
		}
		return nil
	}
}

// MatchRefresh recomputes the match set from the current catalog.
func MatchRefresh(index MatchIndex) JobFunc {
	return func(ctx context.Context) error {
		_, err := index.Refresh(ctx)
		return err
	}
}

// FeeRegistry installs fee schedules.
type FeeRegistry interface {
	Refresh(ctx context.Context, src fees.Source) error
}

// FeeRefresh pulls live schedules from every source. A source that cannot
// report keeps its configured schedule; the job fails only when all do.
func FeeRefresh(reg FeeRegistry, sources []fees.Source, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, src := range sources {
			if err := reg.Refresh(ctx, src); err != nil {
				logger.Debug("fee refresh skipped", slog.String("error", err.Error()))
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 && len(errs) == len(sources) {
			return errors.Join(errs...)
		}
		return nil
	}
}

// Cleaner forgets dedup state.
type Cleaner interface {
	Cleanup(keep func(matchID string) bool) int
}

// DedupCleanup drops dedup entries for matches that left the accepted set or
// expired.
func DedupCleanup(d Cleaner, index MatchIndex, logger *slog.Logger) JobFunc {
	return func(context.Context) error {
		set := index.Current()
		n := d.Cleanup(func(id string) bool {
			_, ok := set.Get(id)
			return ok
		})
		if n > 0 {
			logger.Debug("dedup entries dropped", slog.Int("count", n))
		}
		return nil
	}
}

// Stats runs each reporter.
func Stats(reporters ...func()) JobFunc {
	return func(context.Context) error {
		for _, r := range reporters {
			r()
		}
		return nil
	}
}

// Subscriptions resolves the markets referenced by set into the per-venue
// subscription lists the venue manager expects. Markets missing from the
// catalog are skipped.
func Subscriptions(set *matcher.Set, lookup func(domain.MarketKey) (domain.Market, bool)) map[domain.VenueID][]domain.Market {
	out := make(map[domain.VenueID][]domain.Market)
	for v, ids := range set.MarketsByVenue() {
		for _, id := range ids {
			if m, ok := lookup(domain.MarketKey{Venue: v, ID: id}); ok {
				out[v] = append(out[v], m)
			}
		}
	}
	return out
}
