package agent

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter for chat turns, keyed by visitor.
// The key is the visitor ID only, not visitor:session, so a widget cannot
// bypass throttling by opening new tabs.
type RateLimiter struct {
	mu     sync.Mutex
	turns  map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter and starts the background eviction
// goroutine, which stops when ctx is done.
func NewRateLimiter(ctx context.Context, limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		turns:  make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	rl.startEviction(ctx)
	return rl
}

// Allow records a turn for key and reports whether it fits the window.
// When it does not, the duration is the wait until the oldest turn leaves
// the window, suitable for a Retry-After header.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := pruneBefore(r.turns[key], now.Add(-r.window))
	if len(recent) >= r.limit {
		r.turns[key] = recent
		return false, recent[0].Add(r.window).Sub(now)
	}
	r.turns[key] = append(recent, now)
	return true, 0
}

// pruneBefore drops the leading timestamps not after cutoff. Timestamps are
// appended in order, so the expired ones form a prefix.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

func (r *RateLimiter) startEviction(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evict(r.now())
			}
		}
	}()
}

func (r *RateLimiter) evict(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	for key, times := range r.turns {
		if fresh := pruneBefore(times, cutoff); len(fresh) == 0 {
			delete(r.turns, key)
		} else {
			r.turns[key] = fresh
		}
	}
}
