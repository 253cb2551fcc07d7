// Package config loads the sensor daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/soil-sensor/internal/gpio"
	"github.com/sweeney/soil-sensor/internal/logic"
	"github.com/sweeney/soil-sensor/internal/measure"
)

// Sensor modes. Each mode runs a different measurement loop.
const (
	ModeCapacitive = "capacitive"
	ModeInertial   = "inertial"
	ModeADC        = "adc"
)

// Config represents the daemon configuration.
type Config struct {
	Mode       string           `yaml:"mode"`
	Backend    string           `yaml:"backend"`
	Log        LogConfig        `yaml:"log"`
	Timebase   TimebaseConfig   `yaml:"timebase"`
	Pins       []PinConfig      `yaml:"pins"`
	Capacitive CapacitiveConfig `yaml:"capacitive"`
	Inertial   InertialConfig   `yaml:"inertial"`
	ADC        ADCConfig        `yaml:"adc"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// TimebaseConfig contains the tick counter settings.
type TimebaseConfig struct {
	Resolution time.Duration `yaml:"resolution"`
}

// PinConfig is one entry of the pin table.
type PinConfig struct {
	Name      string `yaml:"name"`
	Chip      string `yaml:"chip"`
	Line      int    `yaml:"line"`
	Mode      string `yaml:"mode"`
	Bias      string `yaml:"bias"`
	ActiveLow bool   `yaml:"active_low"`
}

// CapacitiveConfig contains the charge-time measurement settings.
type CapacitiveConfig struct {
	SensePin       string         `yaml:"sense_pin"`
	ChargePin      string         `yaml:"charge_pin"`
	LEDPin         string         `yaml:"led_pin"` // empty disables the heartbeat LED
	Cadence        time.Duration  `yaml:"cadence"` // 0 runs cycles back to back
	SettleDelay    time.Duration  `yaml:"settle_delay"`
	CaptureTimeout time.Duration  `yaml:"capture_timeout"`
	Strategy       string         `yaml:"strategy"`
	BusyWait       BusyWaitConfig `yaml:"busywait"`
	QueueCapacity  int            `yaml:"queue_capacity"`
	Filter         FilterConfig   `yaml:"filter"`
	TimeoutPolicy  string         `yaml:"timeout_policy"`
	Threshold      uint32         `yaml:"threshold"`
	Hysteresis     uint32         `yaml:"hysteresis"`
	ReportEvery    int            `yaml:"report_every"`
	Labels         LabelConfig    `yaml:"labels"`
}

// BusyWaitConfig contains the polling fallback settings.
type BusyWaitConfig struct {
	Budget int    `yaml:"budget"`
	Units  string `yaml:"units"` // "iterations" or "duration"
}

// FilterConfig is the EMA weight as Weight/Denominator.
type FilterConfig struct {
	Weight      uint32 `yaml:"weight"`
	Denominator uint32 `yaml:"denominator"`
}

// LabelConfig holds the text printed for each classified state.
type LabelConfig struct {
	Active   string `yaml:"active"`
	Inactive string `yaml:"inactive"`
}

// InertialConfig contains the IMU averaging loop settings.
type InertialConfig struct {
	Bus      string        `yaml:"bus"`
	Address  uint16        `yaml:"address"`
	Window   int           `yaml:"window"`
	Sample   time.Duration `yaml:"sample"`
	Report   time.Duration `yaml:"report"`
	Retries  int           `yaml:"retries"`
	AccelFSR int           `yaml:"accel_fsr"` // g: 2, 4, 8, 16
	GyroFSR  int           `yaml:"gyro_fsr"`  // deg/s: 250, 500, 1000, 2000

	// DataReadyPin names an input in the pin table wired to the IMU INT
	// line. When set, samples are taken on data-ready instead of Sample.
	DataReadyPin string `yaml:"data_ready_pin"`
}

// ADCConfig contains the dual-channel ADC sampler settings.
type ADCConfig struct {
	Bus      string          `yaml:"bus"`
	Address  uint16          `yaml:"address"`
	Window   int             `yaml:"window"`
	Sample   time.Duration   `yaml:"sample"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig is the static calibration of one ADC channel.
type ChannelConfig struct {
	ID              int           `yaml:"id"`
	Label           string        `yaml:"label"`
	Gain            float64       `yaml:"gain"`
	Reference       float64       `yaml:"reference"` // volts
	AcquisitionTime time.Duration `yaml:"acquisition_time"`
}

// Default returns the reference configuration for a Raspberry Pi wired as
// LED on GPIO17, charge output on GPIO27 and sense on GPIO22.
func Default() *Config {
	return &Config{
		Mode:    ModeCapacitive,
		Backend: gpio.BackendCdev,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Timebase: TimebaseConfig{
			Resolution: time.Nanosecond,
		},
		Pins: []PinConfig{
			{Name: "led", Chip: "gpiochip0", Line: 17, Mode: string(gpio.ModeOutput)},
			{Name: "charge", Chip: "gpiochip0", Line: 27, Mode: string(gpio.ModeOutput)},
			{Name: "sense", Chip: "gpiochip0", Line: 22, Mode: string(gpio.ModeOpenDrain), Bias: string(gpio.BiasDisabled)},
		},
		Capacitive: CapacitiveConfig{
			SensePin:       "sense",
			ChargePin:      "charge",
			LEDPin:         "led",
			Cadence:        200 * time.Millisecond,
			SettleDelay:    measure.DefaultSettleDelay,
			CaptureTimeout: measure.DefaultCaptureTimeout,
			Strategy:       string(measure.StrategyInterrupt),
			BusyWait: BusyWaitConfig{
				Budget: measure.DefaultBusyWaitBudget,
				Units:  string(measure.UnitsIterations),
			},
			QueueCapacity: 4,
			Filter:        FilterConfig{Weight: 50, Denominator: 1000},
			TimeoutPolicy: string(logic.PolicyHold),
			Threshold:     80000,
			ReportEvery:   10,
			Labels:        LabelConfig{Active: "SOIL", Inactive: "    "},
		},
		Inertial: InertialConfig{
			Address:  0x68,
			Window:   50,
			Sample:   4 * time.Millisecond,
			Report:   200 * time.Millisecond,
			Retries:  3,
			AccelFSR: 2,
			GyroFSR:  250,
		},
		ADC: ADCConfig{
			Address: 0x48,
			Window:  16,
			Sample:  10 * time.Millisecond,
			Channels: []ChannelConfig{
				{ID: 0, Label: "a0", Gain: 1.0 / 6, Reference: 0.6, AcquisitionTime: 10 * time.Millisecond},
				{ID: 1, Label: "a1", Gain: 1.0 / 6, Reference: 0.6, AcquisitionTime: 10 * time.Millisecond},
			},
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist,
// defaults are used; fields missing from the file keep their defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

// ensureDefaults fills zero values an explicit YAML null may have cleared.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Timebase.Resolution == 0 {
		c.Timebase.Resolution = def.Timebase.Resolution
	}
	if len(c.Pins) == 0 {
		c.Pins = def.Pins
	}
	if c.Capacitive.ReportEvery == 0 {
		c.Capacitive.ReportEvery = def.Capacitive.ReportEvery
	}
	if c.Capacitive.Filter.Denominator == 0 {
		c.Capacitive.Filter = def.Capacitive.Filter
	}
	if c.Capacitive.QueueCapacity == 0 {
		c.Capacitive.QueueCapacity = def.Capacitive.QueueCapacity
	}
	if len(c.ADC.Channels) == 0 {
		c.ADC.Channels = def.ADC.Channels
	}
}

// Validate checks the configuration for the selected mode.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case gpio.BackendCdev, gpio.BackendPeriph:
	default:
		errs = append(errs, fmt.Errorf("unknown gpio backend %q", c.Backend))
	}

	if _, err := c.GPIOPins(); err != nil {
		errs = append(errs, err)
	}

	switch c.Mode {
	case ModeCapacitive:
		errs = append(errs, c.validateCapacitive()...)
	case ModeInertial:
		errs = append(errs, c.validateInertial()...)
	case ModeADC:
		errs = append(errs, c.validateADC()...)
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	return errors.Join(errs...)
}

func (c *Config) validateCapacitive() []error {
	var errs []error
	cc := c.Capacitive

	if err := c.MeasureConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	pins := c.pinModes()
	for _, ref := range []struct{ role, name string }{
		{"sense", cc.SensePin},
		{"charge", cc.ChargePin},
		{"led", cc.LEDPin},
	} {
		if ref.name == "" && ref.role == "led" {
			continue
		}
		mode, ok := pins[ref.name]
		if !ok {
			errs = append(errs, fmt.Errorf("%s pin %q is not in the pin table", ref.role, ref.name))
			continue
		}
		if ref.role == "sense" && mode != gpio.ModeOpenDrain {
			errs = append(errs, fmt.Errorf("sense pin %q must be open_drain, got %s", ref.name, mode))
		}
		if ref.role != "sense" && mode != gpio.ModeOutput {
			errs = append(errs, fmt.Errorf("%s pin %q must be output, got %s", ref.role, ref.name, mode))
		}
	}

	if _, err := logic.NewFilter(cc.Filter.Weight, cc.Filter.Denominator); err != nil {
		errs = append(errs, err)
	}
	if _, err := logic.ParseTimeoutPolicy(cc.TimeoutPolicy); err != nil {
		errs = append(errs, err)
	}
	if cc.Cadence < 0 {
		errs = append(errs, fmt.Errorf("cadence %v is negative", cc.Cadence))
	}
	if cc.ReportEvery <= 0 {
		errs = append(errs, fmt.Errorf("report_every %d must be positive", cc.ReportEvery))
	}
	return errs
}

func (c *Config) validateInertial() []error {
	var errs []error
	ic := c.Inertial
	if ic.Window <= 0 {
		errs = append(errs, fmt.Errorf("inertial window %d must be positive", ic.Window))
	}
	if ic.Retries <= 0 {
		errs = append(errs, fmt.Errorf("inertial retries %d must be positive", ic.Retries))
	}
	if ic.Report <= 0 {
		errs = append(errs, errors.New("inertial report interval must be positive"))
	}
	if ic.DataReadyPin == "" {
		if ic.Sample <= 0 {
			errs = append(errs, errors.New("inertial sample interval must be positive without a data-ready pin"))
		}
		return errs
	}
	mode, ok := c.pinModes()[ic.DataReadyPin]
	switch {
	case !ok:
		errs = append(errs, fmt.Errorf("data-ready pin %q is not in the pin table", ic.DataReadyPin))
	case mode != gpio.ModeInput:
		errs = append(errs, fmt.Errorf("data-ready pin %q must be input, got %s", ic.DataReadyPin, mode))
	}
	return errs
}

func (c *Config) validateADC() []error {
	var errs []error
	if c.ADC.Window <= 0 {
		errs = append(errs, fmt.Errorf("adc window %d must be positive", c.ADC.Window))
	}
	if c.ADC.Sample <= 0 {
		errs = append(errs, fmt.Errorf("adc sample interval %v must be positive", c.ADC.Sample))
	}
	if n := len(c.ADC.Channels); n == 0 || n > 4 {
		errs = append(errs, fmt.Errorf("adc needs 1 to 4 channels, got %d", n))
	}
	seen := make(map[int]bool)
	for _, ch := range c.ADC.Channels {
		if ch.ID < 0 || ch.ID > 3 {
			errs = append(errs, fmt.Errorf("adc channel id %d out of range 0-3", ch.ID))
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("adc channel %d listed twice", ch.ID))
		}
		seen[ch.ID] = true
		if ch.Gain <= 0 || ch.Reference <= 0 {
			errs = append(errs, fmt.Errorf("adc channel %d needs positive gain and reference", ch.ID))
		}
		if ch.AcquisitionTime <= 0 {
			errs = append(errs, fmt.Errorf("adc channel %d needs a positive acquisition time", ch.ID))
		}
	}
	return errs
}

func (c *Config) pinModes() map[string]gpio.Mode {
	m := make(map[string]gpio.Mode, len(c.Pins))
	for _, p := range c.Pins {
		m[p.Name] = gpio.Mode(p.Mode)
	}
	return m
}

// GPIOPins converts the pin table for the gpio package.
func (c *Config) GPIOPins() ([]gpio.Pin, error) {
	pins := make([]gpio.Pin, 0, len(c.Pins))
	seen := make(map[string]bool)
	for _, p := range c.Pins {
		if p.Name == "" {
			return nil, fmt.Errorf("pin on line %d has no name", p.Line)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("pin %q listed twice", p.Name)
		}
		seen[p.Name] = true

		mode, err := gpio.ParseMode(p.Mode)
		if err != nil {
			return nil, fmt.Errorf("pin %q: %w", p.Name, err)
		}
		bias, err := gpio.ParseBias(p.Bias)
		if err != nil {
			return nil, fmt.Errorf("pin %q: %w", p.Name, err)
		}
		if mode == gpio.ModeOpenDrain && p.ActiveLow {
			return nil, fmt.Errorf("pin %q: %w", p.Name, gpio.ErrActiveLowOpenDrain)
		}
		pins = append(pins, gpio.Pin{
			Name:      p.Name,
			Chip:      p.Chip,
			Line:      p.Line,
			Mode:      mode,
			Bias:      bias,
			ActiveLow: p.ActiveLow,
		})
	}
	return pins, nil
}

// GPIOPin returns one converted entry of the pin table.
func (c *Config) GPIOPin(name string) (gpio.Pin, error) {
	pins, err := c.GPIOPins()
	if err != nil {
		return gpio.Pin{}, err
	}
	for _, p := range pins {
		if p.Name == name {
			return p, nil
		}
	}
	return gpio.Pin{}, fmt.Errorf("%w: %s", gpio.ErrUnknownPin, name)
}

// MeasureConfig converts the capacitive section for the measure package.
func (c *Config) MeasureConfig() measure.Config {
	cc := c.Capacitive
	return measure.Config{
		SensePin:       cc.SensePin,
		ChargePin:      cc.ChargePin,
		SettleDelay:    cc.SettleDelay,
		CaptureTimeout: cc.CaptureTimeout,
		Strategy:       measure.Strategy(cc.Strategy),
		BusyWaitBudget: cc.BusyWait.Budget,
		BusyWaitUnits:  measure.Units(cc.BusyWait.Units),
		QueueCapacity:  cc.QueueCapacity,
	}
}
