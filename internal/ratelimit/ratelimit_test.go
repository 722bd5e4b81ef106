package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLimiterBurstThenRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newLimiter(10, 3, clock.now)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "burst request %d", i)
	}
	assert.False(t, l.Allow())
	assert.Equal(t, 100*time.Millisecond, l.RetryAfter())

	clock.advance(100 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	clock.advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow())
}

func TestLimiterMinimumBurst(t *testing.T) {
	l := New(1, 0)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestKeyedIsolatesKeys(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	k := newKeyed(1, 1, time.Minute, clock.now)

	assert.True(t, k.Allow("a"))
	assert.False(t, k.Allow("a"))
	assert.True(t, k.Allow("b"))
	assert.Equal(t, 2, k.Len())
}

func TestKeyedDropsIdleLimiters(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	k := newKeyed(1, 1, time.Minute, clock.now)

	k.Allow("a")
	k.Allow("b")
	clock.advance(2 * time.Minute)
	k.Allow("c")

	assert.Equal(t, 1, k.Len())
}
