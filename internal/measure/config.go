package measure

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/soil-sensor/internal/edge"
)

// Strategy selects how the charge edge is captured.
type Strategy string

const (
	// StrategyInterrupt waits on the edge queue fed by the GPIO edge handler.
	StrategyInterrupt Strategy = "interrupt"
	// StrategyBusyWait polls the sense pin up to a fixed iteration budget.
	StrategyBusyWait Strategy = "busywait"
)

// Units selects what a busy-wait measurement reports.
type Units string

const (
	// UnitsIterations reports the poll count at which the edge was seen.
	UnitsIterations Units = "iterations"
	// UnitsDuration reports elapsed timebase time in nanoseconds.
	UnitsDuration Units = "duration"
)

// Defaults matching the reference circuit.
const (
	DefaultSettleDelay    = 10 * time.Millisecond
	DefaultCaptureTimeout = 200 * time.Millisecond
	DefaultBusyWaitBudget = 20000
)

// Config describes one measurement cycle.
type Config struct {
	SensePin  string
	ChargePin string

	SettleDelay    time.Duration
	CaptureTimeout time.Duration

	Strategy       Strategy
	BusyWaitBudget int
	BusyWaitUnits  Units
	QueueCapacity  int
}

// DefaultConfig returns the reference cycle configuration.
func DefaultConfig() Config {
	return Config{
		SensePin:       "sense",
		ChargePin:      "charge",
		SettleDelay:    DefaultSettleDelay,
		CaptureTimeout: DefaultCaptureTimeout,
		Strategy:       StrategyInterrupt,
		BusyWaitBudget: DefaultBusyWaitBudget,
		BusyWaitUnits:  UnitsIterations,
		QueueCapacity:  edge.DefaultCapacity,
	}
}

// Validate checks the configuration for values the cycle cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.SensePin == "" || c.ChargePin == "" {
		errs = append(errs, errors.New("sense and charge pins are required"))
	}
	if c.SensePin == c.ChargePin {
		errs = append(errs, errors.New("sense and charge must be different pins"))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay %v is negative", c.SettleDelay))
	}
	switch c.Strategy {
	case StrategyInterrupt:
		if c.CaptureTimeout <= 0 {
			errs = append(errs, fmt.Errorf("capture timeout %v must be positive", c.CaptureTimeout))
		}
	case StrategyBusyWait:
		if c.BusyWaitBudget <= 0 {
			errs = append(errs, fmt.Errorf("busy-wait budget %d must be positive", c.BusyWaitBudget))
		}
		if c.BusyWaitUnits != UnitsIterations && c.BusyWaitUnits != UnitsDuration {
			errs = append(errs, fmt.Errorf("unknown busy-wait units %q", c.BusyWaitUnits))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown capture strategy %q", c.Strategy))
	}
	return errors.Join(errs...)
}
