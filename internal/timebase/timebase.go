// Package timebase provides the wrapping tick counter used to timestamp
// capacitor charge cycles.
//
// Ticks are 32-bit and wrap, the same way a hardware cycle counter does.
// Consumers must treat end <= start as a wraparound, never as a negative or
// huge duration.
package timebase

import "time"

// Ticks is a wrapping 32-bit count of clock ticks.
type Ticks uint32

// Clock converts between monotonic time and ticks.
type Clock interface {
	// Now returns the current tick count.
	Now() Ticks

	// At converts a monotonic timestamp (as delivered with GPIO edge events)
	// onto the same tick scale as Now.
	At(ts time.Duration) Ticks

	// Duration converts a tick delta to a time duration.
	Duration(delta Ticks) time.Duration
}

// DefaultResolution is one tick per nanosecond. At this resolution the
// counter wraps roughly every 4.29 seconds.
const DefaultResolution = time.Nanosecond

// Monotonic is a Clock backed by the system monotonic clock.
type Monotonic struct {
	resolution time.Duration
}

// NewMonotonic creates a monotonic clock with the given tick resolution.
// A non-positive resolution selects DefaultResolution.
func NewMonotonic(resolution time.Duration) *Monotonic {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &Monotonic{resolution: resolution}
}

// Now returns the current tick count.
func (m *Monotonic) Now() Ticks {
	return m.At(MonotonicNow())
}

// At truncates a monotonic timestamp to ticks. The conversion wraps.
func (m *Monotonic) At(ts time.Duration) Ticks {
	return Ticks(uint64(ts) / uint64(m.resolution))
}

// Duration converts a tick delta to a duration.
func (m *Monotonic) Duration(delta Ticks) time.Duration {
	return time.Duration(delta) * m.resolution
}

// Resolution returns the duration of a single tick.
func (m *Monotonic) Resolution() time.Duration {
	return m.resolution
}
