package scanner

import (
	"sync"
	"time"
)

type dedupEntry struct {
	bucket string
	seen   time.Time
}

// Dedup remembers the last emitted price bucket per match. An opportunity is
// emitted again only after its bucket changes or it closed in between. Safe
// for concurrent use.
type Dedup struct {
	mu   sync.Mutex
	open map[string]dedupEntry // match id -> last emission
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup whose entries expire after ttl without being seen.
// A zero ttl keeps entries until they close.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		open: make(map[string]dedupEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// ShouldEmit records bucket for matchID and reports whether it differs from
// the bucket last emitted.
func (d *Dedup) ShouldEmit(matchID, bucket string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if e, ok := d.open[matchID]; ok && e.bucket == bucket {
		e.seen = now
		d.open[matchID] = e
		return false
	}
	d.open[matchID] = dedupEntry{bucket: bucket, seen: now}
	return true
}

// Close forgets matchID so its next valid opportunity is emitted.
func (d *Dedup) Close(matchID string) {
	d.mu.Lock()
	delete(d.open, matchID)
	d.mu.Unlock()
}

// Len returns the number of open opportunities.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}

// Cleanup drops entries not seen within the ttl, or whose match is no
// longer accepted when keep is non-nil. It returns how many were removed.
func (d *Dedup) Cleanup(keep func(matchID string) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	n := 0
	for id, e := range d.open {
		expired := d.ttl > 0 && now.Sub(e.seen) >= d.ttl
		if expired || (keep != nil && !keep(id)) {
			delete(d.open, id)
			n++
		}
	}
	return n
}
