package measure

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/soil-sensor/internal/gpio"
	"github.com/sweeney/soil-sensor/internal/logic"
	"github.com/sweeney/soil-sensor/internal/timebase"
)

// circuit simulates an RC charge circuit on top of the fake controller.
type circuit struct {
	pins  *gpio.FakeController
	clock *timebase.FakeClock

	chargeTicks timebase.Ticks
	silent      bool // capacitor never reaches the edge threshold
	stuck       bool // sense never discharges
	staleEdge   bool // an edge fires while discharging, before the purge

	armed bool
}

func newCircuit(t *testing.T, start timebase.Ticks) *circuit {
	t.Helper()
	c := &circuit{
		pins:        gpio.NewFakeController(),
		clock:       timebase.NewFakeClock(start),
		chargeTicks: 80000,
	}
	require.NoError(t, gpio.ConfigureAll(c.pins, []gpio.Pin{
		{Name: "led", Mode: gpio.ModeOutput},
		{Name: "charge", Mode: gpio.ModeOutput},
		{Name: "sense", Mode: gpio.ModeOpenDrain},
	}))
	c.pins.OnSet = c.onSet
	return c
}

func (c *circuit) onSet(name string, level int) {
	switch {
	case name == "charge" && level == 0:
		c.armed = false
		c.pins.SetInput("sense", 0)
		c.pins.SetStuckHigh("sense", c.stuck)
	case name == "sense" && level == 0 && c.staleEdge:
		c.pins.Fire("sense", time.Duration(c.clock.Now()))
	case name == "charge" && level == 1:
		c.armed = true
		if c.silent {
			return
		}
		end := c.clock.Advance(c.chargeTicks)
		c.pins.SetInput("sense", 1)
		c.pins.Fire("sense", time.Duration(end))
	}
}

func nullLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func newCycle(t *testing.T, c *circuit, cfg Config, opts ...Option) *Cycle {
	t.Helper()
	opts = append([]Option{WithSleep(func(time.Duration) {})}, opts...)
	cyc, err := New(cfg, c.pins, c.clock, nullLog(), opts...)
	require.NoError(t, err)
	return cyc
}

func TestCycle_InterruptMeasured(t *testing.T) {
	c := newCircuit(t, 1000)
	var phases []Phase
	cyc := newCycle(t, c, DefaultConfig(), WithTrace(func(p Phase) { phases = append(phases, p) }))

	out := cyc.Run()

	assert.Equal(t, logic.Measured, out.Kind)
	assert.Equal(t, uint32(80000), out.Value)
	assert.NoError(t, out.Err)
	assert.Equal(t, []Phase{PhaseDischarge, PhaseSettleCheck, PhaseArmed, PhaseCapture, PhaseDone}, phases)
}

func TestCycle_PinDriveOrder(t *testing.T) {
	c := newCircuit(t, 1000)
	cyc := newCycle(t, c, DefaultConfig())

	cyc.Run()

	want := []gpio.SetCall{
		{Name: "charge", Level: 0},
		{Name: "sense", Level: 0},
		{Name: "sense", Level: 1},
		{Name: "charge", Level: 1},
	}
	assert.Equal(t, want, c.pins.Sets)
}

func TestCycle_InterruptTimeout(t *testing.T) {
	c := newCircuit(t, 1000)
	c.silent = true
	cfg := DefaultConfig()
	cfg.CaptureTimeout = 5 * time.Millisecond
	cyc := newCycle(t, c, cfg)

	out := cyc.Run()

	assert.Equal(t, logic.TimedOut, out.Kind)
	assert.Equal(t, uint32(0), out.Value)
	assert.ErrorIs(t, out.Err, logic.ErrCaptureTimeout)
	assert.False(t, out.IsOverflow())
}

func TestCycle_StaleEdgeIsPurged(t *testing.T) {
	c := newCircuit(t, 1000)
	c.silent = true
	c.staleEdge = true
	cfg := DefaultConfig()
	cfg.CaptureTimeout = 5 * time.Millisecond
	cyc := newCycle(t, c, cfg)

	// An edge left over from an abandoned cycle.
	cyc.Events().Push(999)

	out := cyc.Run()

	assert.Equal(t, logic.TimedOut, out.Kind, "a stale edge must never be measured")
	assert.Equal(t, 0, cyc.Events().Len())
}

func TestCycle_PinStuck(t *testing.T) {
	c := newCircuit(t, 1000)
	c.stuck = true
	var phases []Phase
	cyc := newCycle(t, c, DefaultConfig(), WithTrace(func(p Phase) { phases = append(phases, p) }))

	out := cyc.Run()

	assert.Equal(t, logic.PinStuck, out.Kind)
	assert.ErrorIs(t, out.Err, logic.ErrPinStuck)
	assert.Equal(t, []Phase{PhaseDischarge, PhaseSettleCheck, PhaseStuck}, phases)
	assert.Equal(t, []int{0}, c.pins.SetsFor("charge"), "charging must not start after a stuck check")

	// The next cycle starts with a fresh discharge.
	c.stuck = false
	phases = nil
	out = cyc.Run()
	assert.Equal(t, logic.Measured, out.Kind)
	assert.Equal(t, PhaseDischarge, phases[0])
}

func TestCycle_EdgeDuringSettleIsSkipped(t *testing.T) {
	c := newCircuit(t, 1000)
	cfg := DefaultConfig()
	cfg.SettleDelay = 10 * time.Millisecond
	var cyc *Cycle
	cyc, err := New(cfg, c.pins, c.clock, nullLog(), WithSleep(func(d time.Duration) {
		// Ringing on the line after the purge, then the settle delay passes.
		cyc.Events().Push(c.clock.Now())
		c.clock.Advance(timebase.Ticks(d))
	}))
	require.NoError(t, err)

	out := cyc.Run()

	assert.Equal(t, logic.Measured, out.Kind)
	assert.Equal(t, uint32(80000), out.Value)
	assert.Equal(t, 0, cyc.Events().Len())
}

func TestCycle_Wraparound(t *testing.T) {
	c := newCircuit(t, math.MaxUint32-10)
	c.chargeTicks = 100
	cyc := newCycle(t, c, DefaultConfig())

	out := cyc.Run()

	assert.Equal(t, logic.TimedOut, out.Kind)
	assert.True(t, out.IsOverflow())
	assert.Equal(t, uint32(0), out.Value)
}

func TestCycle_EqualTimestampsAreOverflow(t *testing.T) {
	c := newCircuit(t, 5000)
	c.chargeTicks = 0
	cyc := newCycle(t, c, DefaultConfig())

	out := cyc.Run()

	assert.True(t, out.IsOverflow())
}

func TestCycle_SettleDelay(t *testing.T) {
	c := newCircuit(t, 1000)
	var slept []time.Duration
	cfg := DefaultConfig()
	cfg.SettleDelay = 10 * time.Millisecond
	cyc, err := New(cfg, c.pins, c.clock, nullLog(), WithSleep(func(d time.Duration) {
		// The capacitor must already be draining when the delay starts.
		assert.Equal(t, 0, c.pins.Level("charge"))
		assert.Equal(t, 0, c.pins.Level("sense"))
		slept = append(slept, d)
	}))
	require.NoError(t, err)

	cyc.Run()

	assert.Equal(t, []time.Duration{10 * time.Millisecond}, slept)
}

func busyWaitConfig() Config {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyBusyWait
	return cfg
}

func TestCycle_BusyWaitIterations(t *testing.T) {
	c := newCircuit(t, 1000)
	c.silent = true
	reads := 0
	c.pins.OnGet = func(name string) {
		if !c.armed {
			return
		}
		reads++
		if reads > 42 {
			c.pins.SetInput("sense", 1)
		}
	}
	cyc := newCycle(t, c, busyWaitConfig())

	out := cyc.Run()

	assert.Equal(t, logic.Measured, out.Kind)
	assert.Equal(t, uint32(42), out.Value)
}

func TestCycle_BusyWaitBudgetExhausted(t *testing.T) {
	c := newCircuit(t, 1000)
	c.silent = true
	cyc := newCycle(t, c, busyWaitConfig())

	out := cyc.Run()

	assert.Equal(t, logic.TimedOut, out.Kind)
	assert.Equal(t, uint32(20000), out.Value, "loop variable must equal the full budget")
	assert.ErrorIs(t, out.Err, logic.ErrCaptureTimeout)
	// One settle check plus the whole budget.
	assert.Equal(t, 20001, c.pins.Reads["sense"])
}

func TestCycle_BusyWaitDuration(t *testing.T) {
	c := newCircuit(t, 1000)
	c.silent = true
	reads := 0
	c.pins.OnGet = func(name string) {
		if !c.armed {
			return
		}
		c.clock.Advance(10)
		reads++
		if reads > 5 {
			c.pins.SetInput("sense", 1)
		}
	}
	cfg := busyWaitConfig()
	cfg.BusyWaitUnits = UnitsDuration
	cyc := newCycle(t, c, cfg)

	out := cyc.Run()

	assert.Equal(t, logic.Measured, out.Kind)
	assert.Equal(t, uint32(60), out.Value)
}

func TestCycle_BusyWaitDurationTimeout(t *testing.T) {
	c := newCircuit(t, math.MaxUint32-20)
	c.silent = true
	c.pins.OnGet = func(name string) {
		if c.armed {
			c.clock.Advance(10)
		}
	}
	cfg := busyWaitConfig()
	cfg.BusyWaitUnits = UnitsDuration
	cfg.BusyWaitBudget = 5
	cyc := newCycle(t, c, cfg)

	out := cyc.Run()

	assert.Equal(t, logic.TimedOut, out.Kind)
	assert.False(t, out.IsOverflow())
	assert.Equal(t, uint32(50), out.Value, "timeout reports elapsed nanoseconds, not the poll budget")
	assert.Equal(t, clampNanos(cfg.CaptureTimeout), cyc.Ceiling())
}

func TestCycle_BusyWaitDoesNotRegisterEdgeHandler(t *testing.T) {
	c := newCircuit(t, 1000)
	newCycle(t, c, busyWaitConfig())

	assert.False(t, c.pins.Fire("sense", 1), "busy-wait must not consume edge events")
}

func TestCycle_GPIOErrorAbandonsCycle(t *testing.T) {
	c := newCircuit(t, 1000)
	cyc := newCycle(t, c, DefaultConfig())
	c.pins.GetError = errors.New("read failed")

	out := cyc.Run()

	assert.Equal(t, logic.PinStuck, out.Kind)
	assert.ErrorIs(t, out.Err, logic.ErrPinStuck)
	assert.Contains(t, out.Err.Error(), "read failed")
}

func TestCycle_NewFailsWithoutSensePin(t *testing.T) {
	pins := gpio.NewFakeController()
	_, err := New(DefaultConfig(), pins, timebase.NewFakeClock(0), nullLog())
	assert.ErrorIs(t, err, gpio.ErrUnknownPin)
}

func TestCycle_Ceiling(t *testing.T) {
	c := newCircuit(t, 0)
	cyc := newCycle(t, c, DefaultConfig())
	assert.Equal(t, uint32(200000000), cyc.Ceiling())

	c2 := newCircuit(t, 0)
	cyc2 := newCycle(t, c2, busyWaitConfig())
	assert.Equal(t, uint32(20000), cyc2.Ceiling())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Strategy = "dma"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ChargePin = cfg.SensePin
	assert.Error(t, cfg.Validate())

	cfg = busyWaitConfig()
	cfg.BusyWaitBudget = 0
	assert.Error(t, cfg.Validate())

	cfg = busyWaitConfig()
	cfg.BusyWaitUnits = "cycles"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CaptureTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "SETTLE_CHECK", PhaseSettleCheck.String())
	assert.Equal(t, "Phase(42)", Phase(42).String())
}
