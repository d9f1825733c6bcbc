package ratelimit

import (
	"sync"
	"time"
)

// sweepEvery bounds how often Allow scans for refilled buckets.
const sweepEvery = time.Minute

type bucket struct {
	tokens   float64
	burst    float64
	perSec   float64
	lastSeen time.Time
}

// refill tops the bucket up for the time elapsed since lastSeen.
func (b *bucket) refill(now time.Time) {
	if dt := now.Sub(b.lastSeen).Seconds(); dt > 0 {
		b.tokens += dt * b.perSec
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
	}
	b.lastSeen = now
}

// Limiter is a set of token buckets keyed by caller (symbol, client IP).
// Buckets that have refilled completely are dropped; recreating one is equivalent.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

type Option func(*Limiter)

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{buckets: make(map[string]*bucket), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow takes one token from key's bucket. burst and perSec apply when the
// bucket is created.
func (l *Limiter) Allow(key string, burst, perSec float64) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= sweepEvery {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: burst, burst: burst, perSec: perSec, lastSeen: now}
		l.buckets[key] = b
	}
	b.refill(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		b.refill(now)
		if b.tokens >= b.burst {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

// Len reports the live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
