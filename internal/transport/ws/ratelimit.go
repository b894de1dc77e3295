package ws

import (
	"sync"
	"time"
)

// RateLimiter is an in-memory token bucket per actor, protecting the
// judgment oracle from command floods.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	maxRate int
	window  time.Duration
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter allows maxRate judged actions per window per actor.
func NewRateLimiter(maxRate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		maxRate: maxRate,
		window:  window,
	}
}

// Allow reports whether the actor may submit another judged action now.
func (rl *RateLimiter) Allow(actor string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[actor]
	now := time.Now()

	if !ok || now.Sub(b.lastReset) >= rl.window {
		rl.buckets[actor] = &bucket{tokens: rl.maxRate - 1, lastReset: now}
		return true
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns seconds until the actor's window resets.
func (rl *RateLimiter) RetryAfter(actor string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[actor]
	if !ok {
		return 0
	}
	remaining := rl.window - time.Since(b.lastReset)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// Forget drops an actor's bucket on disconnect.
func (rl *RateLimiter) Forget(actor string) {
	rl.mu.Lock()
	delete(rl.buckets, actor)
	rl.mu.Unlock()
}
