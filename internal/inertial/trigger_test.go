package inertial

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/soil-sensor/internal/gpio"
)

func TestDataReady_DrivesSampler(t *testing.T) {
	pins := gpio.NewFakeController()
	require.NoError(t, pins.Configure(gpio.Pin{Name: "drdy", Mode: gpio.ModeInput}))
	sample, err := DataReady(pins, "drdy")
	require.NoError(t, err)

	src := &FakeSource{Reading: reading(1)}
	s, _ := newSampler(Config{Window: 1, Retries: 1}, src)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx, sample, nil) }()

	require.True(t, pins.Fire("drdy", time.Millisecond))
	assert.Eventually(t, func() bool { return src.Calls() == 1 }, time.Second, time.Millisecond)
	// Edges while a tick is pending coalesce rather than block the handler.
	pins.Fire("drdy", 2*time.Millisecond)
	pins.Fire("drdy", 3*time.Millisecond)
	pins.Fire("drdy", 4*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.LessOrEqual(t, src.Calls(), 4)
}

func TestDataReady_RejectsOutputPin(t *testing.T) {
	pins := gpio.NewFakeController()
	require.NoError(t, pins.Configure(gpio.Pin{Name: "led", Mode: gpio.ModeOutput}))

	_, err := DataReady(pins, "led")
	assert.ErrorContains(t, err, "data-ready pin led")
}
