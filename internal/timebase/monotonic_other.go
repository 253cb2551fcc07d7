//go:build !linux

package timebase

import "time"

var processStart = time.Now()

// MonotonicNow returns the monotonic time elapsed since process start.
func MonotonicNow() time.Duration {
	return time.Since(processStart)
}
