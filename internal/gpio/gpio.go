// Package gpio provides pin configuration, drive, read and rising-edge
// notification with hardware abstraction.
// The real implementations use the Linux GPIO character device (gpiocdev)
// or periph.io. The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"time"
)

// Mode is the electrical configuration of a pin.
type Mode string

const (
	ModeInput  Mode = "input"
	ModeOutput Mode = "output"
	// ModeOpenDrain pins can only pull low. Level 1 releases the line, which
	// then reads whatever the external circuit drives it to.
	ModeOpenDrain Mode = "open_drain"
)

// Bias is the internal pull resistor setting.
type Bias string

const (
	BiasDefault  Bias = ""
	BiasDisabled Bias = "disabled"
	BiasPullUp   Bias = "pull_up"
	BiasPullDown Bias = "pull_down"
)

// Pin describes one entry of the pin table.
type Pin struct {
	Name      string
	Chip      string
	Line      int
	Mode      Mode
	Bias      Bias
	ActiveLow bool
}

// EdgeHandler is called from the backend's event goroutine on a rising edge.
// ts is a CLOCK_MONOTONIC timestamp. Handlers must not block.
type EdgeHandler func(ts time.Duration)

// Controller configures and drives named pins.
type Controller interface {
	// Configure requests the pin and applies its mode.
	Configure(p Pin) error

	// Set drives the pin to level 0 or 1.
	Set(name string, level int) error

	// Get reads the pin level.
	Get(name string) (int, error)

	// OnRisingEdge registers h for rising edges on an input or open-drain
	// pin. Only one handler per pin.
	OnRisingEdge(name string, h EdgeHandler) error

	// Close returns the pins to inputs and releases resources.
	Close() error
}

var (
	// ErrUnknownPin is returned for a pin name that was never configured.
	ErrUnknownPin = errors.New("gpio: unknown pin")

	// ErrUnsupported is returned when a backend is unavailable on this platform.
	ErrUnsupported = errors.New("gpio: not supported on this platform")

	// ErrActiveLowOpenDrain is returned for an open-drain pin marked active
	// low. Open-drain pins only ever pull the line physically low.
	ErrActiveLowOpenDrain = errors.New("gpio: open_drain pins cannot be active_low")
)

// Backend names accepted by Open.
const (
	BackendCdev   = "gpiocdev"
	BackendPeriph = "periph"
)

// Open creates a controller for the named backend.
func Open(backend string) (Controller, error) {
	switch backend {
	case BackendCdev, "":
		return NewCdevController(), nil
	case BackendPeriph:
		return NewPeriphController()
	}
	return nil, fmt.Errorf("gpio: unknown backend %q", backend)
}

// ConfigureAll configures every pin in the table, stopping at the first
// failure.
func ConfigureAll(c Controller, pins []Pin) error {
	for _, p := range pins {
		if err := c.Configure(p); err != nil {
			return fmt.Errorf("configure %s (%s:%d): %w", p.Name, p.Chip, p.Line, err)
		}
	}
	return nil
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeInput, ModeOutput, ModeOpenDrain:
		return m, nil
	}
	return "", fmt.Errorf("gpio: unknown mode %q", s)
}

// ParseBias validates a bias name.
func ParseBias(s string) (Bias, error) {
	switch b := Bias(s); b {
	case BiasDefault, BiasDisabled, BiasPullUp, BiasPullDown:
		return b, nil
	}
	return "", fmt.Errorf("gpio: unknown bias %q", s)
}
