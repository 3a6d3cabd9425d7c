// Package testutil holds shared test doubles: a synthetic clock, a mock
// identity provider and a mock renderer WebSocket server.
package testutil

import (
	"sync"
	"time"
)

// Clock is a synthetic clock for deterministic cooldown and window tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now is the func(time.Time) hook components accept.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to an absolute instant.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
