package session

import (
	"context"
	"sync"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Queue is a bounded FIFO of session items. Pushing onto a full queue evicts
// the oldest unread item.
type Queue struct {
	mu      sync.Mutex
	items   []domain.SessionItem
	head    int
	size    int
	dropped int64
	closed  bool
	ready   chan struct{} // signalled when items arrive or the queue closes
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items: make([]domain.SessionItem, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push appends item and reports whether an older item was evicted. Pushing
// onto a closed queue is a no-op.
func (q *Queue) Push(item domain.SessionItem) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	evicted := false
	if q.size == len(q.items) {
		q.items[q.head] = domain.SessionItem{}
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.dropped++
		evicted = true
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.mu.Unlock()

	q.signal()
	return evicted
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest item without blocking.
func (q *Queue) TryPop() (domain.SessionItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (domain.SessionItem, bool) {
	if q.size == 0 {
		return domain.SessionItem{}, false
	}
	item := q.items[q.head]
	q.items[q.head] = domain.SessionItem{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// Pop blocks until an item is available. Once the queue is closed and drained
// it returns domain.ErrSessionStopped.
func (q *Queue) Pop(ctx context.Context) (domain.SessionItem, error) {
	for {
		q.mu.Lock()
		item, ok := q.popLocked()
		closed := q.closed
		more := q.size > 0
		q.mu.Unlock()
		if ok {
			if more || closed {
				q.signal()
			}
			return item, nil
		}
		if closed {
			q.signal()
			return domain.SessionItem{}, domain.ErrSessionStopped
		}
		select {
		case <-ctx.Done():
			return domain.SessionItem{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Close wakes blocked readers. Items already queued can still be read.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of unread items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns how many items were evicted unread.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
