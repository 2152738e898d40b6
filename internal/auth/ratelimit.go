package auth

import (
	"sync"
	"time"
)

// tokenBucket is a continuously-refilling rate limiter. Login throttling
// uses Allow (non-blocking) rather than waiting: a throttled login attempt
// is rejected outright.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func newTokenBucket(capacity, ratePerSecond float64, now time.Time) *tokenBucket {
	return &tokenBucket{tokens: capacity, capacity: capacity, rate: ratePerSecond, lastTime: now}
}

// allow consumes a token if one is available at time now.
func (tb *tokenBucket) allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// LoginLimiter tracks one bucket per login identifier so a burst against a
// single account cannot lock out the rest.
type LoginLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	capacity float64
	rate     float64
	now      func() time.Time
}

// NewLoginLimiter allows capacity attempts per identifier, refilling at
// ratePerSecond.
func NewLoginLimiter(capacity, ratePerSecond float64) *LoginLimiter {
	return &LoginLimiter{
		buckets:  make(map[string]*tokenBucket),
		capacity: capacity,
		rate:     ratePerSecond,
		now:      time.Now,
	}
}

// Allow reports whether a login attempt for identifier may proceed.
func (l *LoginLimiter) Allow(identifier string) bool {
	now := l.now()

	l.mu.Lock()
	tb, ok := l.buckets[identifier]
	if !ok {
		tb = newTokenBucket(l.capacity, l.rate, now)
		l.buckets[identifier] = tb
	}
	l.mu.Unlock()

	return tb.allow(now)
}
