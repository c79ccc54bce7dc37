// Package ratelimit implements per-client write rate limiting with lazy-refill token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// bucket is a token bucket with lazy refill (no background goroutine).
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMinute int64, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(perMinute),
		max:      float64(perMinute),
		rate:     float64(perMinute) / 60.0,
		lastFill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

func (b *bucket) tryConsume(now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns seconds until one token is available.
func (b *bucket) retryAfter() float64 {
	if b.tokens >= 1 {
		return 0
	}
	return (1 - b.tokens) / b.rate
}

// Limiter is the write bucket of a single client.
type Limiter struct {
	mu       sync.Mutex
	b        *bucket
	limit    int64
	lastUsed time.Time
}

func newLimiter(perMinute int64, now time.Time) *Limiter {
	return &Limiter{b: newBucket(perMinute, now), limit: perMinute, lastUsed: now}
}

func (l *Limiter) allow(now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUsed = now

	remaining, ok := l.b.tryConsume(now)
	if ok {
		return Result{Allowed: true, Limit: l.limit, Remaining: remaining}
	}
	return Result{
		Allowed:           false,
		Limit:             l.limit,
		RetryAfterSeconds: l.b.retryAfter(),
	}
}

// Registry manages per-client Limiters sharing one per-minute limit.
type Registry struct {
	mu       sync.RWMutex
	limit    int64
	limiters map[string]*Limiter
	now      func() time.Time
}

// NewRegistry creates a registry allowing perMinute writes per client.
// A limit of 0 disables limiting.
func NewRegistry(perMinute int64) *Registry {
	return &Registry{
		limit:    perMinute,
		limiters: make(map[string]*Limiter),
		now:      time.Now,
	}
}

// Allow consumes one write token for client.
func (r *Registry) Allow(client string) Result {
	if r.limit <= 0 {
		return Result{Allowed: true}
	}
	return r.get(client).allow(r.now())
}

func (r *Registry) get(client string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[client]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[client]; ok {
		return l
	}
	l = newLimiter(r.limit, r.now())
	r.limiters[client] = l
	return l
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}
