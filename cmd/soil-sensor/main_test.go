package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/soil-sensor/internal/config"
	"github.com/sweeney/soil-sensor/internal/gpio"
	"github.com/sweeney/soil-sensor/internal/measure"
	"github.com/sweeney/soil-sensor/internal/status"
	"github.com/sweeney/soil-sensor/internal/timebase"
)

// busyWaitConfig returns a config whose cycles finish instantly on the fake
// controller: no settle delay and a small poll budget.
func busyWaitConfig() *config.Config {
	cfg := config.Default()
	cfg.Capacitive.Strategy = string(measure.StrategyBusyWait)
	cfg.Capacitive.BusyWait.Budget = 50
	cfg.Capacitive.SettleDelay = 0
	return cfg
}

func TestBuildCapacitivePrintState(t *testing.T) {
	cfg := busyWaitConfig()
	pins := gpio.NewFakeController()
	logger, _ := test.NewNullLogger()
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	loop, err := buildCapacitive(cfg, pins, timebase.NewFakeClock(0), tracker, logger)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printStatus(loop, tracker, cfg.Capacitive.ReportEvery, &out))

	var parsed status.StatusJSON
	require.NoError(t, json.Unmarshal(out.Bytes(), &parsed), out.String())
	s := parsed.Status
	assert.Equal(t, 10, s.Iterations)
	// The sense line never rises on the fake, so every poll budget runs out.
	assert.Equal(t, 10, s.Counts.Timeouts)
	assert.Equal(t, uint32(50), s.Raw)
	assert.Equal(t, uint32(0), s.Filtered, "hold policy")
	assert.Equal(t, "INACTIVE", s.State)
	assert.Equal(t, "iterations", s.Config.Units)
	assert.Equal(t, 50, s.Config.BusyWaitBudget)
	assert.Len(t, pins.SetsFor("led"), 10)
}

func TestBuildCapacitiveSaturatePolicy(t *testing.T) {
	cfg := busyWaitConfig()
	cfg.Capacitive.TimeoutPolicy = "saturate"
	logger, _ := test.NewNullLogger()

	loop, err := buildCapacitive(cfg, gpio.NewFakeController(), timebase.NewFakeClock(0), nil, logger)
	require.NoError(t, err)
	loop.Step()

	// One timeout saturates toward the 50-iteration budget: (50*50+500)/1000.
	assert.Equal(t, uint32(3), loop.Filtered())
}

func TestBuildCapacitiveConfigureError(t *testing.T) {
	pins := gpio.NewFakeController()
	pins.ConfigureError = os.ErrPermission
	logger, _ := test.NewNullLogger()

	_, err := buildCapacitive(busyWaitConfig(), pins, timebase.NewFakeClock(0), nil, logger)
	assert.ErrorIs(t, err, os.ErrPermission)
}

type fakeIMU struct {
	enabled int
	err     error
}

func (f *fakeIMU) EnableDataReady() error {
	f.enabled++
	return f.err
}

func dataReadyConfig() *config.Config {
	cfg := config.Default()
	cfg.Mode = config.ModeInertial
	cfg.Pins = append(cfg.Pins, config.PinConfig{Name: "drdy", Line: 4, Mode: string(gpio.ModeInput)})
	cfg.Inertial.DataReadyPin = "drdy"
	return cfg
}

func TestDataReadySamples(t *testing.T) {
	pins := gpio.NewFakeController()
	imu := &fakeIMU{}

	sample, err := dataReadySamples(dataReadyConfig(), pins, imu)
	require.NoError(t, err)
	assert.Equal(t, 1, imu.enabled)
	assert.Equal(t, gpio.ModeInput, pins.Pins["drdy"].Mode)
	assert.Len(t, pins.Pins, 1, "only the data-ready pin is claimed")

	require.True(t, pins.Fire("drdy", time.Millisecond))
	select {
	case <-sample:
	case <-time.After(time.Second):
		t.Fatal("no sample tick after a data-ready edge")
	}
}

func TestDataReadySamplesEnableError(t *testing.T) {
	imu := &fakeIMU{err: errors.New("nack")}

	_, err := dataReadySamples(dataReadyConfig(), gpio.NewFakeController(), imu)
	assert.ErrorContains(t, err, "enable data-ready interrupt")
}

func TestDataReadySamplesUnknownPin(t *testing.T) {
	cfg := dataReadyConfig()
	cfg.Inertial.DataReadyPin = "int1"
	imu := &fakeIMU{}

	_, err := dataReadySamples(cfg, gpio.NewFakeController(), imu)
	assert.ErrorIs(t, err, gpio.ErrUnknownPin)
	assert.Zero(t, imu.enabled)
}

func TestWatchSignals(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		ctx, cancel := context.WithCancel(context.Background())
		sig := make(chan os.Signal, 1)
		logger, hook := test.NewNullLogger()

		reason := watchSignals(ctx, cancel, sig, logger)
		sig <- tt.sig

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatalf("%v: context not cancelled", tt.sig)
		}
		assert.Equal(t, tt.want, reason())
		assert.Equal(t, tt.want, reason(), "second call")
		assert.Len(t, hook.AllEntries(), 1, "%v", tt.sig)
	}
}

func TestWatchSignalsNoSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger, _ := test.NewNullLogger()

	reason := watchSignals(ctx, cancel, make(chan os.Signal), logger)
	cancel()

	assert.Empty(t, reason())
}

func TestConfigureLogger(t *testing.T) {
	log := logrus.New()

	require.NoError(t, configureLogger(log, config.LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	assert.Error(t, configureLogger(log, config.LogConfig{Level: "loud"}))
	assert.Error(t, configureLogger(log, config.LogConfig{Level: "info", Format: "xml"}))
}

func TestAdcChannels(t *testing.T) {
	got := adcChannels([]config.ChannelConfig{
		{ID: 0, Gain: 1, Reference: 2, AcquisitionTime: time.Millisecond},
		{ID: 3, Label: "bed", Gain: 2, Reference: 4},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "a0", got[0].Label)
	assert.Equal(t, "bed", got[1].Label)
	assert.Equal(t, 3, got[1].ID)
	assert.Equal(t, got[0].MaxVoltage(), got[1].MaxVoltage())
}

func TestRootCommandFatalConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: optical\n"), 0o644))

	cmd := newRootCmd()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--config", path, "--restart-delay", "0s"})

	assert.Error(t, cmd.Execute())
	assert.Contains(t, stderr.String(), "fatal")
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})

	assert.Error(t, cmd.Execute())
}
