// Package orderbook keeps the latest normalized book for every subscribed
// market and notifies listeners when a book changes.
package orderbook

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const stripeCount = 64

type stripe struct {
	mu    sync.RWMutex
	books map[domain.MarketKey]domain.OrderbookSnapshot
}

// Entry is a cached snapshot with staleness evaluated at read time.
type Entry struct {
	Snapshot domain.OrderbookSnapshot
	Stale    bool
	Age      time.Duration
}

// Stats are cache counters.
type Stats struct {
	Markets  int    `json:"markets"`
	Updates  uint64 `json:"updates"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for staleness.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type subscriber struct {
	ch chan domain.MarketKey
}

// Cache is an in-memory order book store. Writes to a key are serialized by
// the key's stripe lock; keys on other stripes proceed independently.
type Cache struct {
	stripes    [stripeCount]stripe
	staleAfter time.Duration
	now        func() time.Time

	subsMu sync.RWMutex
	subs   map[*subscriber]struct{}

	updates  atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a cache that marks snapshots older than staleAfter as stale.
func New(staleAfter time.Duration, opts ...Option) *Cache {
	c := &Cache{
		staleAfter: staleAfter,
		now:        time.Now,
		subs:       make(map[*subscriber]struct{}),
	}
	for i := range c.stripes {
		c.stripes[i].books = make(map[domain.MarketKey]domain.OrderbookSnapshot)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) stripeFor(k domain.MarketKey) *stripe {
	return &c.stripes[xxhash.Sum64String(k.String())%stripeCount]
}

// Update stores snap if its sequence is newer than the cached one. An older or
// equal sequence leaves the cache untouched and returns
// domain.ErrStaleSequence.
func (c *Cache) Update(snap domain.OrderbookSnapshot) error {
	s := c.stripeFor(snap.Market)
	s.mu.Lock()
	if cur, ok := s.books[snap.Market]; ok && snap.Sequence <= cur.Sequence {
		s.mu.Unlock()
		c.rejected.Add(1)
		return fmt.Errorf("orderbook: %s seq %d <= %d: %w", snap.Market, snap.Sequence, cur.Sequence, domain.ErrStaleSequence)
	}
	s.books[snap.Market] = snap
	s.mu.Unlock()

	c.updates.Add(1)
	c.notify(snap.Market)
	return nil
}

// Get returns the cached snapshot for k.
func (c *Cache) Get(k domain.MarketKey) (Entry, bool) {
	s := c.stripeFor(k)
	s.mu.RLock()
	snap, ok := s.books[k]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	age := snap.Age(c.now())
	return Entry{Snapshot: snap, Stale: age > c.staleAfter, Age: age}, true
}

// Remove drops the cached snapshot for k, typically on unsubscribe.
func (c *Cache) Remove(k domain.MarketKey) {
	s := c.stripeFor(k)
	s.mu.Lock()
	delete(s.books, k)
	s.mu.Unlock()
}

// RemoveVenue drops every snapshot of venue v and returns how many were
// removed.
func (c *Cache) RemoveVenue(v domain.VenueID) int {
	n := 0
	for i := range c.stripes {
		s := &c.stripes[i]
		s.mu.Lock()
		for k := range s.books {
			if k.Venue == v {
				delete(s.books, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Len returns the number of cached markets.
func (c *Cache) Len() int {
	n := 0
	for i := range c.stripes {
		s := &c.stripes[i]
		s.mu.RLock()
		n += len(s.books)
		s.mu.RUnlock()
	}
	return n
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Markets:  c.Len(),
		Updates:  c.updates.Load(),
		Rejected: c.rejected.Load(),
		Dropped:  c.dropped.Load(),
	}
}

// Subscribe returns a channel receiving the key of every applied update and a
// cancel func that detaches it. A full channel loses the notification and the
// drop counter increments; the writer never blocks.
func (c *Cache) Subscribe(buffer int) (<-chan domain.MarketKey, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan domain.MarketKey, buffer)}
	c.subsMu.Lock()
	c.subs[sub] = struct{}{}
	c.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, sub)
			c.subsMu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

func (c *Cache) notify(k domain.MarketKey) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for sub := range c.subs {
		select {
		case sub.ch <- k:
		default:
			c.dropped.Add(1)
		}
	}
}
