package matcher

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// SourceChange records a market whose resolution source changed between two
// discoveries.
type SourceChange struct {
	Market domain.MarketKey `json:"market"`
	Old    string           `json:"old"`
	New    string           `json:"new"`
}

// Catalog holds the latest metadata for every discovered market.
type Catalog struct {
	mu      sync.RWMutex
	markets map[domain.MarketKey]domain.Market
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{markets: make(map[domain.MarketKey]domain.Market)}
}

// Upsert stores the markets and reports every known market whose canonical
// resolution source differs from the stored one.
func (c *Catalog) Upsert(markets []domain.Market) []SourceChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changes []SourceChange
	for _, m := range markets {
		if prev, ok := c.markets[m.Key]; ok {
			old := CanonicalSource(prev.ResolutionSource, prev.Key.Venue)
			cur := CanonicalSource(m.ResolutionSource, m.Key.Venue)
			if old != cur {
				changes = append(changes, SourceChange{Market: m.Key, Old: old, New: cur})
			}
		}
		c.markets[m.Key] = m
	}
	return changes
}

// Get returns the market with key k.
func (c *Catalog) Get(k domain.MarketKey) (domain.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[k]
	return m, ok
}

// Prune removes markets of venue v not present in keep and returns how many
// were removed.
func (c *Catalog) Prune(v domain.VenueID, keep []domain.Market) int {
	live := make(map[domain.MarketKey]bool, len(keep))
	for _, m := range keep {
		live[m.Key] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.markets {
		if k.Venue == v && !live[k] {
			delete(c.markets, k)
			n++
		}
	}
	return n
}

// Active returns active markets whose venue passes the filter, sorted by key.
// A nil filter accepts every venue.
func (c *Catalog) Active(usable func(domain.VenueID) bool) []domain.Market {
	c.mu.RLock()
	out := make([]domain.Market, 0, len(c.markets))
	for _, m := range c.markets {
		if !m.Active {
			continue
		}
		if usable != nil && !usable(m.Key.Venue) {
			continue
		}
		out = append(out, m)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Len returns the number of markets held.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}
