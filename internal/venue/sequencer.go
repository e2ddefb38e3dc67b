package venue

import "sync"

// Sequencer hands out local monotonic sequence numbers per market for venues
// that do not number their messages.
type Sequencer struct {
	mu   sync.Mutex
	last map[string]uint64
}

// NewSequencer returns an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{last: make(map[string]uint64)}
}

// Next returns the next sequence for id, starting at 1.
func (s *Sequencer) Next(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[id]++
	return s.last[id]
}
