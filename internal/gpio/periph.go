package gpio

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/sweeney/soil-sensor/internal/timebase"
)

// edgePoll bounds each WaitForEdge call so the watcher notices Close.
const edgePoll = 100 * time.Millisecond

// PeriphController drives pins through periph.io.
// Pins are looked up by BCM name ("GPIO17") unless Chip names a periph pin
// directly. A character device name such as "gpiochip0" in Chip is ignored.
type PeriphController struct {
	mu   sync.Mutex
	pins map[string]*periphPin
	done chan struct{}
	wg   sync.WaitGroup
}

type periphPin struct {
	mu      sync.Mutex
	cfg     Pin
	io      pgpio.PinIO
	edge    bool
	handler EdgeHandler
}

// NewPeriphController initialises the periph host drivers.
func NewPeriphController() (*PeriphController, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return newPeriphController(), nil
}

func newPeriphController() *PeriphController {
	return &PeriphController{
		pins: make(map[string]*periphPin),
		done: make(chan struct{}),
	}
}

// periphName returns the gpioreg name for p.
func periphName(p Pin) string {
	if p.Chip == "" || strings.HasPrefix(p.Chip, "gpiochip") {
		return fmt.Sprintf("GPIO%d", p.Line)
	}
	return p.Chip
}

// Configure looks up the pin and applies its mode.
func (c *PeriphController) Configure(p Pin) error {
	if p.Mode == ModeOpenDrain && p.ActiveLow {
		return ErrActiveLowOpenDrain
	}
	name := periphName(p)
	io := gpioreg.ByName(name)
	if io == nil {
		return fmt.Errorf("no such pin %s", name)
	}

	pp := &periphPin{cfg: p, io: io}
	var err error
	switch p.Mode {
	case ModeOutput:
		err = io.Out(pp.level(0))
	case ModeInput, ModeOpenDrain:
		err = io.In(periphPull(p.Bias), pgpio.NoEdge)
	default:
		err = fmt.Errorf("unsupported mode %q", p.Mode)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pins[p.Name]; ok {
		return fmt.Errorf("pin %s already configured", p.Name)
	}
	c.pins[p.Name] = pp
	return nil
}

func (c *PeriphController) lookup(name string) (*periphPin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pp, ok := c.pins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPin, name)
	}
	return pp, nil
}

// level maps a logical level onto the physical one.
func (pp *periphPin) level(v int) pgpio.Level {
	high := v != 0
	if pp.cfg.ActiveLow {
		high = !high
	}
	return pgpio.Level(high)
}

// Set drives the pin. For open-drain pins, 1 releases the line.
func (c *PeriphController) Set(name string, level int) error {
	pp, err := c.lookup(name)
	if err != nil {
		return err
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	switch pp.cfg.Mode {
	case ModeOutput:
		return pp.io.Out(pp.level(level))
	case ModeOpenDrain:
		if level == 0 {
			return pp.io.Out(pgpio.Low)
		}
		edge := pgpio.NoEdge
		if pp.edge {
			edge = pgpio.RisingEdge
		}
		return pp.io.In(periphPull(pp.cfg.Bias), edge)
	}
	return fmt.Errorf("pin %s is not an output", name)
}

// Get reads the pin level.
func (c *PeriphController) Get(name string) (int, error) {
	pp, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	if pp.io.Read() == pp.level(1) {
		return 1, nil
	}
	return 0, nil
}

// OnRisingEdge enables edge detection and starts a watcher goroutine that
// calls h for every rising edge until Close.
func (c *PeriphController) OnRisingEdge(name string, h EdgeHandler) error {
	pp, err := c.lookup(name)
	if err != nil {
		return err
	}
	if pp.cfg.Mode == ModeOutput {
		return fmt.Errorf("pin %s is an output, cannot detect edges", name)
	}

	pp.mu.Lock()
	if pp.handler != nil {
		pp.mu.Unlock()
		return fmt.Errorf("pin %s already has an edge handler", name)
	}
	pp.handler = h
	pp.edge = true
	err = pp.io.In(periphPull(pp.cfg.Bias), pgpio.RisingEdge)
	pp.mu.Unlock()
	if err != nil {
		return fmt.Errorf("enable edge detection on %s: %w", name, err)
	}

	c.wg.Add(1)
	go c.watch(pp, h)
	return nil
}

func (c *PeriphController) watch(pp *periphPin, h EdgeHandler) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		start := time.Now()
		if pp.io.WaitForEdge(edgePoll) {
			h(timebase.MonotonicNow())
			continue
		}
		// While the line is driven low there is no edge detection and
		// WaitForEdge returns at once.
		if time.Since(start) < edgePoll/2 {
			time.Sleep(time.Millisecond)
		}
	}
}

// Close stops edge watchers and returns pins to input with pull-down.
func (c *PeriphController) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, pp := range c.pins {
		if err := pp.io.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", name, err))
		}
		delete(c.pins, name)
	}
	return errors.Join(errs...)
}

func periphPull(b Bias) pgpio.Pull {
	switch b {
	case BiasDisabled:
		return pgpio.Float
	case BiasPullUp:
		return pgpio.PullUp
	case BiasPullDown:
		return pgpio.PullDown
	}
	return pgpio.PullNoChange
}
