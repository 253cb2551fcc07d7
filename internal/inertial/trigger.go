package inertial

import (
	"fmt"
	"time"

	"github.com/sweeney/soil-sensor/internal/gpio"
)

// DataReady turns rising edges on pin into sample ticks for Sampler.Run.
// An edge that arrives while the previous tick is still pending is dropped.
func DataReady(pins gpio.Controller, pin string) (<-chan time.Time, error) {
	ch := make(chan time.Time, 1)
	err := pins.OnRisingEdge(pin, func(time.Duration) {
		select {
		case ch <- time.Now():
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("data-ready pin %s: %w", pin, err)
	}
	return ch, nil
}
