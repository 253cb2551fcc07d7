// Package logic contains the pure measurement logic for the soil sensor.
// This package has NO external dependencies (no GPIO, OS, or time.Sleep).
package logic

import "errors"

// Steady-state faults. None of these escape the control loop; the next
// cycle is the retry.
var (
	// ErrPinStuck means the sense pin still read charged after the settle delay.
	ErrPinStuck = errors.New("sense pin did not discharge")

	// ErrCaptureTimeout means no rising edge arrived within the capture window.
	ErrCaptureTimeout = errors.New("no edge observed")

	// ErrTimestampOverflow means the captured end time was not after the start.
	ErrTimestampOverflow = errors.New("timestamp overflow")
)

// Kind tags a cycle outcome.
type Kind int

const (
	Measured Kind = iota
	TimedOut
	PinStuck
)

func (k Kind) String() string {
	switch k {
	case Measured:
		return "MEASURED"
	case TimedOut:
		return "TIMED_OUT"
	case PinStuck:
		return "PIN_STUCK"
	}
	return "UNKNOWN"
}

// Outcome is the result of one discharge/arm/charge/capture cycle.
type Outcome struct {
	Kind Kind
	// Value is the raw measurement: nanoseconds or busy-wait iterations for
	// Measured, the exhausted budget for a busy-wait timeout, otherwise 0.
	Value uint32
	// Err is nil for Measured, otherwise one of the sentinel faults.
	Err error
}

// MeasuredOutcome returns a successful outcome.
func MeasuredOutcome(v uint32) Outcome {
	return Outcome{Kind: Measured, Value: v}
}

// TimeoutOutcome returns a capture timeout carrying the given raw value.
func TimeoutOutcome(v uint32) Outcome {
	return Outcome{Kind: TimedOut, Value: v, Err: ErrCaptureTimeout}
}

// OverflowOutcome returns a timed-out outcome with zero duration.
func OverflowOutcome() Outcome {
	return Outcome{Kind: TimedOut, Err: ErrTimestampOverflow}
}

// StuckOutcome returns a pin-stuck outcome.
func StuckOutcome() Outcome {
	return Outcome{Kind: PinStuck, Err: ErrPinStuck}
}

// IsOverflow reports whether the outcome is a timestamp wraparound.
func (o Outcome) IsOverflow() bool {
	return errors.Is(o.Err, ErrTimestampOverflow)
}

// CycleCounts tracks the number of each outcome since startup.
type CycleCounts struct {
	Measured  int
	Timeouts  int
	Overflows int
	Stuck     int
}

// Record counts a single outcome.
func (c *CycleCounts) Record(o Outcome) {
	switch {
	case o.Kind == Measured:
		c.Measured++
	case o.Kind == PinStuck:
		c.Stuck++
	case o.IsOverflow():
		c.Overflows++
	default:
		c.Timeouts++
	}
}

// Total returns the number of cycles recorded.
func (c CycleCounts) Total() int {
	return c.Measured + c.Timeouts + c.Overflows + c.Stuck
}
