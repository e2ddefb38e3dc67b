// Package fees holds per-venue fee schedules and computes trading costs.
// A venue without a schedule has an unknown fee and every computation for it
// fails with domain.ErrUnknownFee.
package fees

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Source supplies a live fee schedule, typically a venue adapter that can
// query its venue for current rates.
type Source interface {
	FeeSchedule(ctx context.Context) (domain.FeeSchedule, error)
}

// Registry maps venues to fee schedules. Safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	schedules     map[domain.VenueID]domain.FeeSchedule
	gasMultiplier decimal.Decimal
}

// NewRegistry returns a registry seeded with the given schedules. A zero
// gasMultiplier is treated as 1.
func NewRegistry(gasMultiplier decimal.Decimal, schedules ...domain.FeeSchedule) *Registry {
	if gasMultiplier.IsZero() {
		gasMultiplier = decimal.NewFromInt(1)
	}
	r := &Registry{
		schedules:     make(map[domain.VenueID]domain.FeeSchedule, len(schedules)),
		gasMultiplier: gasMultiplier,
	}
	for _, s := range schedules {
		r.schedules[s.Venue] = s
	}
	return r
}

// Set installs or replaces the schedule for s.Venue.
func (r *Registry) Set(s domain.FeeSchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.Venue] = s
}

// SetGasMultiplier adjusts the congestion multiplier applied to gas costs.
func (r *Registry) SetGasMultiplier(m decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gasMultiplier = m
}

// Schedule returns the schedule for venue v or domain.ErrUnknownFee.
func (r *Registry) Schedule(v domain.VenueID) (domain.FeeSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[v]
	if !ok {
		return domain.FeeSchedule{}, fmt.Errorf("fees: %s: %w", v, domain.ErrUnknownFee)
	}
	return s, nil
}

// Venues returns the venues with a known schedule, sorted.
func (r *Registry) Venues() []domain.VenueID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VenueID, 0, len(r.schedules))
	for v := range r.schedules {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Refresh pulls a schedule from src and installs it. On error the existing
// schedule is kept.
func (r *Registry) Refresh(ctx context.Context, src Source) error {
	s, err := src.FeeSchedule(ctx)
	if err != nil {
		return fmt.Errorf("fees: refresh: %w", err)
	}
	r.Set(s)
	return nil
}

// LegFee returns the total cost in dollars of buying size contracts at price on
// venue v.
func (r *Registry) LegFee(v domain.VenueID, price, size decimal.Decimal, liq domain.Liquidity) (decimal.Decimal, error) {
	s, err := r.Schedule(v)
	if err != nil {
		return decimal.Zero, err
	}
	r.mu.RLock()
	mult := r.gasMultiplier
	r.mu.RUnlock()
	return LegFee(s, price, size, liq, mult), nil
}

// PerUnit returns the leg fee spread over size contracts.
func (r *Registry) PerUnit(v domain.VenueID, price, size decimal.Decimal, liq domain.Liquidity) (decimal.Decimal, error) {
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("fees: per unit: size must be positive, got %s", size)
	}
	total, err := r.LegFee(v, price, size, liq)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Div(size), nil
}

// LegFee computes the dollar cost of one leg under schedule s:
//
//	min(rate*price, maxPerContract)*size + fixedPerOrder + min(gas*mult, gasMax)
//
// Zero caps are uncapped.
func LegFee(s domain.FeeSchedule, price, size decimal.Decimal, liq domain.Liquidity, gasMultiplier decimal.Decimal) decimal.Decimal {
	perContract := s.Rate(liq).Mul(price)
	if s.MaxPerContract.IsPositive() && perContract.GreaterThan(s.MaxPerContract) {
		perContract = s.MaxPerContract
	}
	total := perContract.Mul(size).Add(s.FixedPerOrder)

	gas := s.GasPerOrder.Mul(gasMultiplier)
	if s.GasMax.IsPositive() && gas.GreaterThan(s.GasMax) {
		gas = s.GasMax
	}
	return total.Add(gas)
}
