// Package edge provides the bounded queue that hands rising-edge timestamps
// from the GPIO event goroutine to the measurement loop.
//
// There is exactly one producer (the edge handler) and one consumer (the
// measurement cycle). The producer never blocks.
package edge

import (
	"sync/atomic"
	"time"

	"github.com/sweeney/soil-sensor/internal/timebase"
)

// DefaultCapacity is the queue depth used when none is configured.
const DefaultCapacity = 4

// Channel is a fixed-capacity FIFO of edge timestamps.
type Channel struct {
	q       chan timebase.Ticks
	dropped atomic.Uint64
}

// NewChannel creates a Channel holding at most capacity timestamps.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{q: make(chan timebase.Ticks, capacity)}
}

// Push enqueues ts. If the queue is full the new timestamp is dropped;
// anything already queued is stale and will be purged before the next arm.
func (c *Channel) Push(ts timebase.Ticks) {
	select {
	case c.q <- ts:
	default:
		c.dropped.Add(1)
	}
}

// PopWait returns the oldest queued timestamp, waiting up to timeout for one
// to arrive. ok is false on timeout.
func (c *Channel) PopWait(timeout time.Duration) (ts timebase.Ticks, ok bool) {
	select {
	case ts = <-c.q:
		return ts, true
	default:
	}
	if timeout <= 0 {
		return 0, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ts = <-c.q:
		return ts, true
	case <-timer.C:
		return 0, false
	}
}

// Purge discards everything queued and returns how many events were dropped.
func (c *Channel) Purge() int {
	n := 0
	for {
		select {
		case <-c.q:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued timestamps.
func (c *Channel) Len() int {
	return len(c.q)
}

// Cap returns the queue capacity.
func (c *Channel) Cap() int {
	return cap(c.q)
}

// Dropped returns how many pushes were lost to a full queue since creation.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}
