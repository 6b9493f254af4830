package core

import (
	"sync"
	"time"
)

// Clock supplies wall-clock and monotonic time. It is injected so that
// tests can control commit timestamps and cache expiry.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Since returns the monotonic duration elapsed since t.
	Since(t time.Time) time.Duration
}

type systemClock struct{}

// SystemClock returns the real time clock.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// ManualClock is a Clock that only moves when advanced.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock starting at the given time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by the given duration.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
