package timebase

import (
	"sync"
	"time"
)

// FakeClock is a test double with one tick per nanosecond.
// Safe for use from the edge-event goroutine and the loop at once.
type FakeClock struct {
	mu  sync.Mutex
	now Ticks
}

// NewFakeClock creates a FakeClock starting at the given tick count.
func NewFakeClock(start Ticks) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake tick count.
func (f *FakeClock) Now() Ticks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// At maps a duration directly onto ticks.
func (f *FakeClock) At(ts time.Duration) Ticks {
	return Ticks(uint64(ts))
}

// Duration maps ticks directly onto nanoseconds.
func (f *FakeClock) Duration(delta Ticks) time.Duration {
	return time.Duration(delta)
}

// Advance moves the clock forward, wrapping like the real counter.
func (f *FakeClock) Advance(d Ticks) Ticks {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
	return f.now
}

// Set jumps the clock to an absolute tick count.
func (f *FakeClock) Set(t Ticks) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
