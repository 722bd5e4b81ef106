// Package ratelimit provides token-bucket limiters for request surfaces.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket.
type Limiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// New creates a full bucket that refills at rate tokens per second up to
// burst.
func New(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// RetryAfter returns how long until the next token is available.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 || l.rate <= 0 {
		return 0
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

// refill must be called with mu held.
func (l *Limiter) refill() {
	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastRefill = now
}

func (l *Limiter) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRefill
}

// Keyed holds one Limiter per key, such as a client address. Limiters idle
// for longer than the idle timeout are dropped on later calls.
type Keyed struct {
	mu        sync.Mutex
	limiters  map[string]*Limiter
	rate      float64
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyed creates a per-key limiter.
func NewKeyed(rate float64, burst int, idle time.Duration) *Keyed {
	return newKeyed(rate, burst, idle, time.Now)
}

func newKeyed(rate float64, burst int, idle time.Duration, now func() time.Time) *Keyed {
	return &Keyed{
		limiters:  make(map[string]*Limiter),
		rate:      rate,
		burst:     burst,
		idle:      idle,
		lastSweep: now(),
		now:       now,
	}
}

// Get returns the limiter for key, creating it on first use.
func (k *Keyed) Get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.idle > 0 && k.now().Sub(k.lastSweep) > k.idle {
		k.sweep()
	}
	l, ok := k.limiters[key]
	if !ok {
		l = newLimiter(k.rate, k.burst, k.now)
		k.limiters[key] = l
	}
	return l
}

// Allow takes a token from key's bucket.
func (k *Keyed) Allow(key string) bool {
	return k.Get(key).Allow()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// sweep must be called with mu held.
func (k *Keyed) sweep() {
	now := k.now()
	for key, l := range k.limiters {
		if now.Sub(l.idleSince()) > k.idle {
			delete(k.limiters, key)
		}
	}
	k.lastSweep = now
}
