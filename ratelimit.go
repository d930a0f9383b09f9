package foreman

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// RateLimiter throttles LLM calls with one leaky bucket per
// (provider, key fingerprint) pair, so BYOK callers get their own budget
// instead of sharing the server's. Rate is RPM/60 tokens per second;
// capacity is max(5, RPM/10).
type RateLimiter struct {
	mu      sync.Mutex
	rpm     int
	buckets map[string]*leakyBucket
	now     func() time.Time // injectable for tests
}

type leakyBucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter with the given requests-per-minute budget.
// rpm <= 0 disables limiting.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm:     rpm,
		buckets: make(map[string]*leakyBucket),
		now:     time.Now,
	}
}

// rate returns the refill rate in tokens per second.
func (l *RateLimiter) rate() float64 { return float64(l.rpm) / 60.0 }

// capacity returns the bucket depth.
func (l *RateLimiter) capacity() float64 {
	c := l.rpm / 10
	if c < 5 {
		c = 5
	}
	return float64(c)
}

// Acquire blocks until one token is available for the (provider, key) pair
// or ctx is done. Every LLM call acquires exactly one token first.
func (l *RateLimiter) Acquire(ctx context.Context, provider, key string) error {
	if l == nil || l.rpm <= 0 {
		return nil
	}
	id := limiterKey(provider, key)
	for {
		wait, ok := l.tryTake(id)
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryTake refills the bucket for id and takes one token if available.
// When empty it returns the wait until the next token leaks in.
func (l *RateLimiter) tryTake(id string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[id]
	if !ok {
		b = &leakyBucket{tokens: l.capacity(), last: now}
		l.buckets[id] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.rate()
		if depth := l.capacity(); b.tokens > depth {
			b.tokens = depth
		}
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / l.rate() * float64(time.Second))
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait, false
}

// limiterKey builds the bucket ID. Keys are fingerprinted (sha256, first 8
// hex chars) so raw credentials never sit in long-lived maps or log output.
func limiterKey(provider, key string) string {
	sum := sha256.Sum256([]byte(key))
	return provider + ":" + hex.EncodeToString(sum[:])[:8]
}
