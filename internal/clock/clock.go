// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package clock provides the time sources shared by the packet path and the
// background maintenance tasks. Connection timestamps and expiry ages must be
// computed against the same Clock.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonic nanosecond counter plus wall time for display.
type Clock interface {
	// Nanotime returns monotonic nanoseconds from an arbitrary origin.
	Nanotime() uint64
	// Now returns wall-clock time.
	Now() time.Time
}

// Monotonic is the production clock. On Linux Nanotime reads CLOCK_MONOTONIC,
// the same domain as bpf_ktime_get_ns().
type Monotonic struct{}

// NewMonotonic returns the production clock.
func NewMonotonic() Monotonic { return Monotonic{} }

// Now returns the current wall time.
func (Monotonic) Now() time.Time { return time.Now() }

// Nanotime implements Clock.
func (Monotonic) Nanotime() uint64 { return ktime() }

// MockClock is a manually advanced clock for tests and replay.
type MockClock struct {
	mu   sync.RWMutex
	wall time.Time
	// high is the latest wall time seen; mono only advances past it.
	high time.Time
	mono uint64
}

// NewMockClock creates a mock clock starting at the given wall time.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{wall: start, high: start, mono: 1}
}

// Now returns the mock wall time.
func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wall
}

// Nanotime returns the mock monotonic counter.
func (c *MockClock) Nanotime() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mono
}

// Advance moves both readings forward by d. Negative durations are ignored.
func (c *MockClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = c.wall.Add(d)
	if c.wall.After(c.high) {
		c.mono += uint64(c.wall.Sub(c.high))
		c.high = c.wall
	}
}

// Set moves the clock to t. Moving backwards only changes wall time. The
// monotonic counter advances only once wall time passes the latest time
// previously reached, so it never decreases or counts an interval twice.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = t
	if t.After(c.high) {
		c.mono += uint64(t.Sub(c.high))
		c.high = t
	}
}
