package testutil

import (
	"sync"
	"time"
)

// StepClock is a wall clock for tests that advances by a fixed step on every
// reading, so measured durations are exact.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int64
}

// NewStepClock creates a clock whose first Now returns start. Each later
// call returns step more than the previous one.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{start: start, step: step}
}

// Now returns the current reading and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now was called.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock to start.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
