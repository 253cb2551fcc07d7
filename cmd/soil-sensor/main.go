// Command soil-sensor measures soil moisture by timing capacitor charge and
// logs the smoothed reading. It can also average IMU or ADC channels.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/sweeney/soil-sensor/internal/adc"
	"github.com/sweeney/soil-sensor/internal/config"
	"github.com/sweeney/soil-sensor/internal/gpio"
	"github.com/sweeney/soil-sensor/internal/inertial"
	"github.com/sweeney/soil-sensor/internal/logic"
	"github.com/sweeney/soil-sensor/internal/measure"
	"github.com/sweeney/soil-sensor/internal/monitor"
	"github.com/sweeney/soil-sensor/internal/status"
	"github.com/sweeney/soil-sensor/internal/timebase"
)

const defaultConfigPath = "/etc/soil-sensor/config.yaml"

type options struct {
	configPath   string
	printState   bool
	restartDelay time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "soil-sensor",
		Short:         "Capacitive soil moisture sensor daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())

			err := run(opts, log, cmd.OutOrStdout())
			if err != nil {
				log.WithError(err).Error("fatal")
				time.Sleep(opts.restartDelay)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", defaultConfigPath, "Path to the YAML config file")
	cmd.Flags().BoolVar(&opts.printState, "print-state", false, "Run one report interval, print the status as JSON and exit")
	cmd.Flags().DurationVar(&opts.restartDelay, "restart-delay", 100*time.Millisecond, "Delay before exiting on a fatal error")
	return cmd
}

func run(opts *options, log *logrus.Logger, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := configureLogger(log, cfg.Log); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	reason := watchSignals(ctx, cancel, sigCh, log)

	switch cfg.Mode {
	case config.ModeInertial:
		return runInertial(ctx, cfg, log)
	case config.ModeADC:
		return runADC(ctx, cfg, log)
	}
	return runCapacitive(ctx, cfg, opts.printState, log, out, reason)
}

func configureLogger(log *logrus.Logger, cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}

// watchSignals cancels ctx on the first signal. The returned func reports
// which signal it was, or "" if none arrived.
func watchSignals(ctx context.Context, cancel context.CancelFunc, sig <-chan os.Signal, log logrus.FieldLogger) func() string {
	got := make(chan string, 1)
	go func() {
		select {
		case s := <-sig:
			log.Infof("received %v, shutting down", s)
			got <- signalName(s)
			cancel()
		case <-ctx.Done():
			got <- ""
		}
	}()

	var name string
	var done bool
	return func() string {
		if !done {
			name, done = <-got, true
		}
		return name
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func runCapacitive(ctx context.Context, cfg *config.Config, printState bool, log *logrus.Logger, out io.Writer, reason func() string) error {
	pins, err := gpio.Open(cfg.Backend)
	if err != nil {
		return fmt.Errorf("open gpio: %w", err)
	}
	defer pins.Close()

	clock := timebase.NewMonotonic(cfg.Timebase.Resolution)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	loop, err := buildCapacitive(cfg, pins, clock, tracker, log)
	if err != nil {
		return err
	}

	if printState {
		return printStatus(loop, tracker, cfg.Capacitive.ReportEvery, out)
	}

	log.WithFields(logrus.Fields{
		"backend":  cfg.Backend,
		"strategy": cfg.Capacitive.Strategy,
		"cadence":  cfg.Capacitive.Cadence,
	}).Info("started")
	log.Info(string(status.FormatStatusEvent(tracker.Snapshot(), "STARTUP", "")))

	var tick <-chan time.Time
	if cfg.Capacitive.Cadence > 0 {
		ticker := time.NewTicker(cfg.Capacitive.Cadence)
		defer ticker.Stop()
		tick = ticker.C
	}
	err = loop.Run(ctx, tick)

	log.Info(string(status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", reason())))
	return err
}

// buildCapacitive configures the pins and wires cycle, filter, classifier
// and tracker into a control loop.
func buildCapacitive(cfg *config.Config, pins gpio.Controller, clock timebase.Clock, tracker *status.Tracker, log *logrus.Logger) (*monitor.Loop, error) {
	table, err := cfg.GPIOPins()
	if err != nil {
		return nil, err
	}
	if err := gpio.ConfigureAll(pins, table); err != nil {
		return nil, err
	}

	cycle, err := measure.New(cfg.MeasureConfig(), pins, clock, log.WithField("component", "measure"))
	if err != nil {
		return nil, err
	}

	cc := cfg.Capacitive
	filter, err := logic.NewFilter(cc.Filter.Weight, cc.Filter.Denominator)
	if err != nil {
		return nil, err
	}
	policy, err := logic.ParseTimeoutPolicy(cc.TimeoutPolicy)
	if err != nil {
		return nil, err
	}

	return monitor.New(monitor.Config{
		LEDPin:        cc.LEDPin,
		Policy:        policy,
		Threshold:     cc.Threshold,
		Hysteresis:    cc.Hysteresis,
		ReportEvery:   cc.ReportEvery,
		ActiveLabel:   cc.Labels.Active,
		InactiveLabel: cc.Labels.Inactive,
	}, cycle, pins, filter, tracker, log.WithField("component", "monitor"))
}

func printStatus(loop *monitor.Loop, tracker *status.Tracker, cycles int, out io.Writer) error {
	for i := 0; i < cycles; i++ {
		loop.Step()
	}
	_, err := fmt.Fprintln(out, string(status.FormatJSON(tracker.Snapshot())))
	return err
}

func statusConfig(cfg *config.Config) status.Config {
	cc := cfg.Capacitive
	sc := status.Config{
		Mode:          cfg.Mode,
		Backend:       cfg.Backend,
		Strategy:      cc.Strategy,
		TimeoutPolicy: cc.TimeoutPolicy,
		CadenceMs:     cc.Cadence.Milliseconds(),
		SettleMs:      cc.SettleDelay.Milliseconds(),
		CaptureMs:     cc.CaptureTimeout.Milliseconds(),
		Weight:        cc.Filter.Weight,
		Denominator:   cc.Filter.Denominator,
		Threshold:     cc.Threshold,
		Hysteresis:    cc.Hysteresis,
		ReportEvery:   cc.ReportEvery,
	}
	if sc.TimeoutPolicy == "" {
		sc.TimeoutPolicy = string(logic.PolicyHold)
	}
	if measure.Strategy(cc.Strategy) == measure.StrategyBusyWait {
		sc.Units = cc.BusyWait.Units
		sc.BusyWaitBudget = cc.BusyWait.Budget
	}
	return sc
}

func runInertial(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	ic := cfg.Inertial
	bus, err := i2creg.Open(ic.Bus)
	if err != nil {
		return fmt.Errorf("open i2c bus %q: %w", ic.Bus, err)
	}
	defer bus.Close()

	imu, err := inertial.Open(bus, ic.Address, ic.AccelFSR, ic.GyroFSR)
	if err != nil {
		return err
	}

	var sample <-chan time.Time
	if ic.DataReadyPin != "" {
		pins, err := gpio.Open(cfg.Backend)
		if err != nil {
			return fmt.Errorf("open gpio: %w", err)
		}
		defer pins.Close()
		if sample, err = dataReadySamples(cfg, pins, imu); err != nil {
			return err
		}
	} else {
		ticker := time.NewTicker(ic.Sample)
		defer ticker.Stop()
		sample = ticker.C
	}
	report := time.NewTicker(ic.Report)
	defer report.Stop()

	sampler := inertial.NewSampler(inertial.Config{Window: ic.Window, Retries: ic.Retries}, imu, log.WithField("component", "inertial"))
	log.WithFields(logrus.Fields{
		"bus":       bus.String(),
		"model":     imu.Model(),
		"window":    ic.Window,
		"triggered": ic.DataReadyPin != "",
	}).Info("started")
	return sampler.Run(ctx, sample, report.C)
}

type dataReadySource interface {
	EnableDataReady() error
}

// dataReadySamples configures the data-ready pin, hooks its edges and then
// switches the IMU interrupt on.
func dataReadySamples(cfg *config.Config, pins gpio.Controller, imu dataReadySource) (<-chan time.Time, error) {
	pin, err := cfg.GPIOPin(cfg.Inertial.DataReadyPin)
	if err != nil {
		return nil, err
	}
	if err := pins.Configure(pin); err != nil {
		return nil, fmt.Errorf("configure %s: %w", pin.Name, err)
	}
	sample, err := inertial.DataReady(pins, pin.Name)
	if err != nil {
		return nil, err
	}
	if err := imu.EnableDataReady(); err != nil {
		return nil, fmt.Errorf("enable data-ready interrupt: %w", err)
	}
	return sample, nil
}

func runADC(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	ac := cfg.ADC
	bus, err := i2creg.Open(ac.Bus)
	if err != nil {
		return fmt.Errorf("open i2c bus %q: %w", ac.Bus, err)
	}
	defer bus.Close()

	channels := adcChannels(ac.Channels)
	src, err := adc.NewADS1115Source(bus, ac.Address, channels)
	if err != nil {
		return err
	}
	defer src.Close()

	sampler := adc.NewSampler(src, src.Labels(), ac.Window, log.WithField("component", "adc"))
	tick := time.NewTicker(ac.Sample)
	defer tick.Stop()

	log.WithFields(logrus.Fields{"bus": bus.String(), "channels": len(channels)}).Info("started")
	return sampler.Run(ctx, tick.C)
}

func adcChannels(cfgs []config.ChannelConfig) []adc.ChannelConfig {
	out := make([]adc.ChannelConfig, len(cfgs))
	for i, c := range cfgs {
		label := c.Label
		if label == "" {
			label = fmt.Sprintf("a%d", c.ID)
		}
		out[i] = adc.ChannelConfig{
			ID:              c.ID,
			Label:           label,
			Gain:            c.Gain,
			Reference:       c.Reference,
			AcquisitionTime: c.AcquisitionTime,
		}
	}
	return out
}
