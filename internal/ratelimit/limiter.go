package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per key, typically the system_id of a
// bound ESME, so that every session of the same account shares a budget.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
	mu      sync.Mutex
}

// NewRateLimiter allows perSecond events per key with the given burst.
// A perSecond of zero or less disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		b = rate.NewLimiter(rl.limit, rl.burst)
		rl.buckets[key] = b
	}
	return b
}

// Allow reports whether one event for key may happen now
func (rl *RateLimiter) Allow(key string) bool {
	return rl.bucket(key).Allow()
}

// AllowN reports whether n events for key may happen now
func (rl *RateLimiter) AllowN(key string, n int) bool {
	return rl.bucket(key).AllowN(time.Now(), n)
}

// Wait blocks until an event for key is allowed or ctx ends
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.bucket(key).Wait(ctx)
}

// Remove forgets the bucket for key
func (rl *RateLimiter) Remove(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// Unlimited reports whether the limiter lets everything through
func (rl *RateLimiter) Unlimited() bool {
	return rl.limit == rate.Inf
}
