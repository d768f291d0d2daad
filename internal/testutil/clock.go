package testutil

import (
	"sync"
	"time"
)

// Epoch is the start time of a SteppingClock created with a zero start.
var Epoch = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

// SteppingClock is a deterministic wall clock for tests. Every call to Now
// advances it by a fixed step, so a pipeline run that reads the clock at
// start and finish always measures the same duration.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SteppingClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int
}

// NewSteppingClock creates a clock whose first Now returns start.
// A zero start means Epoch.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	if start.IsZero() {
		start = Epoch
	}
	return &SteppingClock{start: start, step: step}
}

// Now returns the current time and advances the clock by one step.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Current returns the time the next Now call will return, without advancing.
func (c *SteppingClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.calls) * c.step)
}

// Reset rewinds the clock to its start.
//
// Used for test reuse. After Reset(), the next call to Now() returns start.
func (c *SteppingClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
