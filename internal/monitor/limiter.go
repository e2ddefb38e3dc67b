package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterSweepEvery is how often Allow drops idle buckets.
const limiterSweepEvery = time.Minute

// LocalLimiter is an in-process domain.RateLimiter with one token bucket per
// key. A bucket allows limit events per window. Buckets that have refilled
// completely are indistinguishable from new ones and are dropped.
type LocalLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	now       func() time.Time
	lastSweep time.Time
}

// NewLocalLimiter creates an empty limiter.
func NewLocalLimiter() *LocalLimiter {
	return newLocalLimiter(time.Now)
}

func newLocalLimiter(now func() time.Time) *LocalLimiter {
	return &LocalLimiter{
		buckets:   make(map[string]*rate.Limiter),
		now:       now,
		lastSweep: now(),
	}
}

// Allow implements domain.RateLimiter.
func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit < 1 {
		limit = 1
	}
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= limiterSweepEvery {
		l.prune(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.AllowN(now, 1), nil
}

// Prune drops every bucket that has refilled and returns how many went.
func (l *LocalLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prune(l.now())
}

func (l *LocalLimiter) prune(now time.Time) int {
	l.lastSweep = now
	n := 0
	for k, b := range l.buckets {
		if b.TokensAt(now) >= float64(b.Burst()) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
