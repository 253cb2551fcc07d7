package gpio

import (
	"fmt"
	"sync"
	"time"
)

// FakeController is a test double that records pin activity and lets tests
// script the external circuit.
type FakeController struct {
	mu sync.Mutex

	// Pins holds every configured pin by name.
	Pins map[string]Pin
	// Driven holds the level last driven on each output or open-drain pin.
	Driven map[string]int
	// Inputs holds the level the external circuit presents on each pin.
	// Open-drain pins read Inputs only while released.
	Inputs map[string]int
	// StuckHigh marks open-drain pins the external circuit holds high even
	// while driven low.
	StuckHigh map[string]bool
	// Sets records every Set call in order.
	Sets []SetCall
	// Reads counts Get calls per pin.
	Reads map[string]int

	// OnSet, if set, is called after each Set with the controller unlocked.
	OnSet func(name string, level int)
	// OnGet, if set, is called before each Get with the controller unlocked.
	OnGet func(name string)

	// ConfigureError, if set, is returned by Configure.
	ConfigureError error
	// SetError, if set, is returned by Set.
	SetError error
	// GetError, if set, is returned by Get.
	GetError error

	// Closed tracks if Close was called.
	Closed bool

	handlers map[string]EdgeHandler
}

// SetCall is a single recorded Set.
type SetCall struct {
	Name  string
	Level int
}

// NewFakeController creates an empty FakeController.
func NewFakeController() *FakeController {
	return &FakeController{
		Pins:      make(map[string]Pin),
		Driven:    make(map[string]int),
		Inputs:    make(map[string]int),
		StuckHigh: make(map[string]bool),
		Reads:     make(map[string]int),
		handlers:  make(map[string]EdgeHandler),
	}
}

// Configure records the pin.
func (f *FakeController) Configure(p Pin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	if p.Mode == ModeOpenDrain && p.ActiveLow {
		return ErrActiveLowOpenDrain
	}
	if _, ok := f.Pins[p.Name]; ok {
		return fmt.Errorf("pin %s already configured", p.Name)
	}
	f.Pins[p.Name] = p
	if p.Mode == ModeOpenDrain {
		f.Driven[p.Name] = 1
	}
	return nil
}

// Set records the drive level and then runs OnSet.
func (f *FakeController) Set(name string, level int) error {
	f.mu.Lock()
	if f.SetError != nil {
		f.mu.Unlock()
		return f.SetError
	}
	p, ok := f.Pins[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPin, name)
	}
	if p.Mode == ModeInput {
		f.mu.Unlock()
		return fmt.Errorf("pin %s is not an output", name)
	}
	f.Driven[name] = level
	f.Sets = append(f.Sets, SetCall{Name: name, Level: level})
	hook := f.OnSet
	f.mu.Unlock()

	if hook != nil {
		hook(name, level)
	}
	return nil
}

// Get runs OnGet and then returns the pin level.
func (f *FakeController) Get(name string) (int, error) {
	f.mu.Lock()
	hook := f.OnGet
	f.mu.Unlock()
	if hook != nil {
		hook(name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetError != nil {
		return 0, f.GetError
	}
	p, ok := f.Pins[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPin, name)
	}
	f.Reads[name]++

	switch p.Mode {
	case ModeOutput:
		return f.Driven[name], nil
	case ModeOpenDrain:
		if f.StuckHigh[name] {
			return 1, nil
		}
		if f.Driven[name] == 0 {
			return 0, nil
		}
	}
	return f.Inputs[name], nil
}

// OnRisingEdge records the handler.
func (f *FakeController) OnRisingEdge(name string, h EdgeHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Pins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPin, name)
	}
	if p.Mode == ModeOutput {
		return fmt.Errorf("pin %s is an output, cannot detect edges", name)
	}
	if _, ok := f.handlers[name]; ok {
		return fmt.Errorf("pin %s already has an edge handler", name)
	}
	f.handlers[name] = h
	return nil
}

// SetInput sets the level the external circuit presents on a pin.
func (f *FakeController) SetInput(name string, level int) {
	f.mu.Lock()
	f.Inputs[name] = level
	f.mu.Unlock()
}

// SetStuckHigh makes an open-drain pin read high regardless of drive.
func (f *FakeController) SetStuckHigh(name string, stuck bool) {
	f.mu.Lock()
	f.StuckHigh[name] = stuck
	f.mu.Unlock()
}

// Fire delivers a rising edge with timestamp ts to the pin's handler.
// It reports whether a handler was registered.
func (f *FakeController) Fire(name string, ts time.Duration) bool {
	f.mu.Lock()
	h := f.handlers[name]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(ts)
	return true
}

// Level returns the level last driven on a pin.
func (f *FakeController) Level(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Driven[name]
}

// SetsFor returns the recorded levels driven on one pin.
func (f *FakeController) SetsFor(name string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var levels []int
	for _, s := range f.Sets {
		if s.Name == name {
			levels = append(levels, s.Level)
		}
	}
	return levels
}

// Close marks the controller as closed.
func (f *FakeController) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears recorded activity but keeps configured pins and handlers.
func (f *FakeController) Reset() {
	f.mu.Lock()
	f.Sets = nil
	f.Reads = make(map[string]int)
	f.Closed = false
	f.mu.Unlock()
}
