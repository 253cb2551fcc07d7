// Package measure runs the capacitive charge-time measurement: one
// discharge, settle check, arm and capture per call.
package measure

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/soil-sensor/internal/edge"
	"github.com/sweeney/soil-sensor/internal/gpio"
	"github.com/sweeney/soil-sensor/internal/logic"
	"github.com/sweeney/soil-sensor/internal/timebase"
)

// Phase is a state of the measurement cycle.
type Phase int

const (
	PhaseDischarge Phase = iota
	PhaseSettleCheck
	PhaseArmed
	PhaseCapture
	PhaseDone
	PhaseTimeout
	PhaseStuck
)

var phaseNames = [...]string{"DISCHARGE", "SETTLE_CHECK", "ARMED", "CAPTURE", "DONE", "TIMEOUT", "STUCK"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Cycle drives the sense and charge pins through one measurement.
// It is not safe for concurrent use; the control loop owns it.
type Cycle struct {
	cfg    Config
	pins   gpio.Controller
	clock  timebase.Clock
	events *edge.Channel
	log    *logrus.Entry

	sleep func(time.Duration)
	trace func(Phase)
}

// Option customises a Cycle.
type Option func(*Cycle)

// WithSleep replaces time.Sleep for the settle delay.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Cycle) { c.sleep = sleep }
}

// WithTrace registers a callback invoked on every phase entry.
func WithTrace(trace func(Phase)) Option {
	return func(c *Cycle) { c.trace = trace }
}

// New creates a Cycle. With the interrupt strategy it registers the
// rising-edge handler on the sense pin, so the pins must already be
// configured. A failure here is a startup fault.
func New(cfg Config, pins gpio.Controller, clock timebase.Clock, log *logrus.Entry, opts ...Option) (*Cycle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cycle{
		cfg:    cfg,
		pins:   pins,
		clock:  clock,
		events: edge.NewChannel(cfg.QueueCapacity),
		log:    log,
		sleep:  time.Sleep,
	}
	for _, o := range opts {
		o(c)
	}

	if cfg.Strategy == StrategyInterrupt {
		err := pins.OnRisingEdge(cfg.SensePin, func(ts time.Duration) {
			c.events.Push(c.clock.At(ts))
		})
		if err != nil {
			return nil, fmt.Errorf("register edge handler: %w", err)
		}
	}
	return c, nil
}

// Events exposes the edge queue for status reporting.
func (c *Cycle) Events() *edge.Channel {
	return c.events
}

// Config returns the cycle configuration.
func (c *Cycle) Config() Config {
	return c.cfg
}

// Ceiling is the sample fed to the filter when a capture times out under
// the saturate policy, in the same units as measured values.
func (c *Cycle) Ceiling() uint32 {
	if c.cfg.Strategy == StrategyBusyWait && c.cfg.BusyWaitUnits == UnitsIterations {
		return uint32(c.cfg.BusyWaitBudget)
	}
	return clampNanos(c.cfg.CaptureTimeout)
}

func (c *Cycle) enter(p Phase) {
	if c.trace != nil {
		c.trace(p)
	}
}

// Run performs one full cycle and returns its outcome. Pin I/O errors
// abandon the cycle like a stuck pin; the next cycle is the retry.
func (c *Cycle) Run() logic.Outcome {
	c.enter(PhaseDischarge)
	if err := c.discharge(); err != nil {
		return c.abort(err)
	}

	c.enter(PhaseSettleCheck)
	v, err := c.pins.Get(c.cfg.SensePin)
	if err != nil {
		return c.abort(err)
	}
	if v != 0 {
		c.enter(PhaseStuck)
		return logic.StuckOutcome()
	}

	c.enter(PhaseArmed)
	start := c.clock.Now()
	if err := c.pins.Set(c.cfg.SensePin, 1); err != nil {
		return c.abort(err)
	}
	if err := c.pins.Set(c.cfg.ChargePin, 1); err != nil {
		return c.abort(err)
	}

	c.enter(PhaseCapture)
	var out logic.Outcome
	if c.cfg.Strategy == StrategyBusyWait {
		out = c.captureBusyWait(start)
	} else {
		out = c.captureInterrupt(start)
	}

	if out.Kind == logic.Measured {
		c.enter(PhaseDone)
	} else {
		c.enter(PhaseTimeout)
	}
	return out
}

// discharge empties the capacitor, invalidates stale edges and waits for the
// circuit to settle.
func (c *Cycle) discharge() error {
	if err := c.pins.Set(c.cfg.ChargePin, 0); err != nil {
		return err
	}
	if err := c.pins.Set(c.cfg.SensePin, 0); err != nil {
		return err
	}
	if n := c.events.Purge(); n > 0 {
		c.log.Debugf("purged %d stale edge events", n)
	}
	c.sleep(c.cfg.SettleDelay)
	return nil
}

func (c *Cycle) captureInterrupt(start timebase.Ticks) logic.Outcome {
	deadline := time.Now().Add(c.cfg.CaptureTimeout)
	for {
		end, ok := c.events.PopWait(time.Until(deadline))
		if !ok {
			return logic.TimeoutOutcome(0)
		}
		if c.beforeArm(start, end) {
			c.log.WithField("behind", c.clock.Duration(start-end)).Debug("skipped edge from before arm")
			continue
		}
		return c.elapsed(start, end)
	}
}

// beforeArm reports whether end was stamped before start rather than after
// a counter wrap: a wrapped edge is at most one capture window ahead.
func (c *Cycle) beforeArm(start, end timebase.Ticks) bool {
	return end < start && c.clock.Duration(end-start) > c.cfg.CaptureTimeout
}

func (c *Cycle) captureBusyWait(start timebase.Ticks) logic.Outcome {
	budget := c.cfg.BusyWaitBudget
	i := 0
	for ; i < budget; i++ {
		v, err := c.pins.Get(c.cfg.SensePin)
		if err != nil {
			return c.abort(err)
		}
		if v != 0 {
			break
		}
	}
	end := c.clock.Now()

	if c.cfg.BusyWaitUnits == UnitsIterations {
		if i == budget {
			return logic.TimeoutOutcome(uint32(budget))
		}
		return logic.MeasuredOutcome(uint32(i))
	}
	if i == budget {
		return logic.TimeoutOutcome(clampNanos(c.clock.Duration(end - start)))
	}
	return c.elapsed(start, end)
}

// elapsed converts a start/end tick pair. end <= start is a counter wrap and
// never yields a measurement.
func (c *Cycle) elapsed(start, end timebase.Ticks) logic.Outcome {
	if end <= start {
		return logic.OverflowOutcome()
	}
	return logic.MeasuredOutcome(clampNanos(c.clock.Duration(end - start)))
}

func (c *Cycle) abort(err error) logic.Outcome {
	c.enter(PhaseStuck)
	return logic.Outcome{Kind: logic.PinStuck, Err: fmt.Errorf("%w: %v", logic.ErrPinStuck, err)}
}

func clampNanos(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	if d.Nanoseconds() > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(d.Nanoseconds())
}
