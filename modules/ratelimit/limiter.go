// Package ratelimit bounds how often an identity may send messages.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config holds rate limiting configuration.
type Config struct {
	// RequestsPerWindow is the number of sends allowed per window.
	RequestsPerWindow int
	// WindowSize is the window duration.
	WindowSize time.Duration
}

// Enabled reports whether the configuration limits anything.
func (c Config) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.WindowSize > 0
}

// Limiter decides whether another action is allowed for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// bucket is a token bucket refilled continuously at rate tokens per second.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketLimiter is an in-process limiter keeping one token bucket per key.
// A bucket holds at most RequestsPerWindow tokens and refills completely over
// WindowSize.
type TokenBucketLimiter struct {
	config  Config
	rate    float64
	buckets map[string]*bucket
	now     func() time.Time
	mu      sync.Mutex
}

// NewTokenBucketLimiter creates a TokenBucketLimiter.
func NewTokenBucketLimiter(config Config) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		config:  config,
		rate:    float64(config.RequestsPerWindow) / config.WindowSize.Seconds(),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(l.config.RequestsPerWindow)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, lastRefill: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Sweep drops buckets that have been full for at least one window and
// returns how many were removed.
func (l *TokenBucketLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) >= l.config.WindowSize {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
