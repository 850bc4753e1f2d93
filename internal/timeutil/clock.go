// Package timeutil abstracts the time source of the control loop so the
// navigator runs against wall time, a mock, or a simulator.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source of a navigation run. Sleep is the only way the
// loop yields, so a simulator can advance its physics from it.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// RealClock is wall time.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// MockClock only moves when told to. Sleep returns at once after moving the
// clock forward, and every requested duration is kept for assertions.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock without recording a sleep, as if the loop body
// had taken d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

// Sleeps returns a copy of every duration passed to Sleep.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Rate paces a loop at a fixed frequency. Sleep blocks for what is left of
// the period since the previous Sleep; an overrun is not made up later.
type Rate struct {
	clock  Clock
	period time.Duration
	last   time.Time
}

// NewRate ticks hz times per second on clock. hz <= 0 never blocks.
func NewRate(clock Clock, hz float64) *Rate {
	var period time.Duration
	if hz > 0 {
		period = time.Duration(float64(time.Second) / hz)
	}
	return &Rate{clock: clock, period: period, last: clock.Now()}
}

func (r *Rate) Period() time.Duration { return r.period }

func (r *Rate) Sleep() {
	if remaining := r.period - r.clock.Since(r.last); remaining > 0 {
		r.clock.Sleep(remaining)
	}
	r.last = r.clock.Now()
}

// Reset starts a fresh period now, e.g. after a long planning pause.
func (r *Rate) Reset() {
	r.last = r.clock.Now()
}
