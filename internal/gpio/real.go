//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
)

// CdevController drives pins through the Linux GPIO character device.
//
// Open-drain pins are emulated by switching direction: level 0 reconfigures
// the line as an output driving low, level 1 reconfigures it as an input
// (with rising-edge detection if a handler is registered). The kernel only
// reports edges on inputs, so this is also what arms edge capture.
type CdevController struct {
	mu    sync.Mutex
	chips map[string]*gpiocdev.Chip
	lines map[string]*cdevLine
}

type cdevLine struct {
	pin     Pin
	line    *gpiocdev.Line
	handler atomic.Pointer[EdgeHandler]
}

// NewCdevController creates a controller with no pins requested yet.
func NewCdevController() *CdevController {
	return &CdevController{
		chips: make(map[string]*gpiocdev.Chip),
		lines: make(map[string]*cdevLine),
	}
}

// Configure requests the line described by p.
func (c *CdevController) Configure(p Pin) error {
	if p.Mode == ModeOpenDrain && p.ActiveLow {
		return ErrActiveLowOpenDrain
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[p.Name]; ok {
		return fmt.Errorf("pin %s already configured", p.Name)
	}

	chipName := p.Chip
	if chipName == "" {
		chipName = "gpiochip0"
	}
	chip, ok := c.chips[chipName]
	if !ok {
		var err error
		chip, err = gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("soil-sensor"))
		if err != nil {
			return fmt.Errorf("open gpio chip %s: %w", chipName, err)
		}
		c.chips[chipName] = chip
	}

	l := &cdevLine{pin: p}
	opts := []gpiocdev.LineReqOption{}
	if p.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	if b := biasOption(p.Bias); b != nil {
		opts = append(opts, b.(gpiocdev.LineReqOption))
	}

	switch p.Mode {
	case ModeOutput:
		opts = append(opts, gpiocdev.AsOutput(0))
	case ModeInput, ModeOpenDrain:
		// The handler must be attached at request time; edge detection
		// itself is switched on later by OnRisingEdge or a release.
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithEventHandler(l.dispatch))
	default:
		return fmt.Errorf("unsupported mode %q", p.Mode)
	}

	line, err := chip.RequestLine(p.Line, opts...)
	if err != nil {
		return fmt.Errorf("request line %d: %w", p.Line, err)
	}
	l.line = line
	c.lines[p.Name] = l
	return nil
}

func (l *cdevLine) dispatch(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	if h := l.handler.Load(); h != nil {
		(*h)(evt.Timestamp)
	}
}

func (c *CdevController) lookup(name string) (*cdevLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPin, name)
	}
	return l, nil
}

// Set drives the pin. For open-drain pins, 1 releases the line.
func (c *CdevController) Set(name string, level int) error {
	l, err := c.lookup(name)
	if err != nil {
		return err
	}

	switch l.pin.Mode {
	case ModeOutput:
		return l.line.SetValue(level)
	case ModeOpenDrain:
		if level == 0 {
			return l.line.Reconfigure(gpiocdev.AsOutput(0), gpiocdev.WithoutEdges)
		}
		return l.line.Reconfigure(l.releaseOptions()...)
	}
	return fmt.Errorf("pin %s is not an output", name)
}

func (l *cdevLine) releaseOptions() []gpiocdev.LineConfigOption {
	opts := []gpiocdev.LineConfigOption{gpiocdev.AsInput}
	if b := biasOption(l.pin.Bias); b != nil {
		opts = append(opts, b)
	}
	if l.handler.Load() != nil {
		opts = append(opts, gpiocdev.WithRisingEdge)
	} else {
		opts = append(opts, gpiocdev.WithoutEdges)
	}
	return opts
}

// Get reads the current line level.
func (c *CdevController) Get(name string) (int, error) {
	l, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	v, err := l.line.Value()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

// OnRisingEdge attaches h and enables rising-edge detection on the line.
func (c *CdevController) OnRisingEdge(name string, h EdgeHandler) error {
	l, err := c.lookup(name)
	if err != nil {
		return err
	}
	if l.pin.Mode == ModeOutput {
		return fmt.Errorf("pin %s is an output, cannot detect edges", name)
	}
	if !l.handler.CompareAndSwap(nil, &h) {
		return fmt.Errorf("pin %s already has an edge handler", name)
	}
	if err := l.line.Reconfigure(l.releaseOptions()...); err != nil {
		l.handler.Store(nil)
		return fmt.Errorf("enable edge detection on %s: %w", name, err)
	}
	return nil
}

// Close releases all lines.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing so the charge circuit is left floating and discharged.
func (c *CdevController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, l := range c.lines {
		l.handler.Store(nil)
		if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown, gpiocdev.WithoutEdges); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", name, err))
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.lines, name)
	}
	for name, chip := range c.chips {
		if err := chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip %s: %w", name, err))
		}
		delete(c.chips, name)
	}
	return errors.Join(errs...)
}

// biasOption returns nil for the default bias. The gpiocdev bias options
// satisfy both the request and config option interfaces.
func biasOption(b Bias) gpiocdev.LineConfigOption {
	switch b {
	case BiasDisabled:
		return gpiocdev.WithBiasDisabled
	case BiasPullUp:
		return gpiocdev.WithPullUp
	case BiasPullDown:
		return gpiocdev.WithPullDown
	}
	return nil
}
