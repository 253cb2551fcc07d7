package adc

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"

	"github.com/sweeney/soil-sensor/internal/logic"
)

// ChannelConfig is the static calibration of one input. It is fixed once
// the source is built.
type ChannelConfig struct {
	ID              int
	Label           string
	Gain            float64
	Reference       float64 // volts
	AcquisitionTime time.Duration
}

// MaxVoltage is the full-scale input: the reference divided by the gain.
func (c ChannelConfig) MaxVoltage() physic.ElectricPotential {
	return physic.ElectricPotential(c.Reference / c.Gain * float64(physic.Volt))
}

// DataRate is one conversion per acquisition time.
func (c ChannelConfig) DataRate() physic.Frequency {
	return physic.PeriodToFrequency(c.AcquisitionTime)
}

var channels = []ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// sampleReader is the part of analog.PinADC the source uses.
type sampleReader interface {
	Read() (analog.Sample, error)
}

// ADS1115Source reads single-ended channels of an ADS1115.
type ADS1115Source struct {
	pins   []sampleReader
	halt   []analog.PinADC
	labels []string
}

// NewADS1115Source binds one ADC pin per configured channel.
func NewADS1115Source(bus i2c.Bus, addr uint16, cfgs []ChannelConfig) (*ADS1115Source, error) {
	opts := ads1x15.DefaultOpts
	if addr != 0 {
		opts.I2cAddress = addr
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		return nil, fmt.Errorf("init ads1115: %w", err)
	}

	s := &ADS1115Source{}
	for _, c := range cfgs {
		if c.ID < 0 || c.ID >= len(channels) {
			s.Close()
			return nil, fmt.Errorf("channel %d out of range", c.ID)
		}
		pin, err := dev.PinForChannel(channels[c.ID], c.MaxVoltage(), c.DataRate(), ads1x15.BestQuality)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bind channel %d: %w", c.ID, err)
		}
		s.pins = append(s.pins, pin)
		s.halt = append(s.halt, pin)
		s.labels = append(s.labels, c.Label)
	}
	return s, nil
}

// Read converts every channel once, in configuration order.
func (s *ADS1115Source) Read() ([]logic.Fixed, error) {
	return readAll(s.pins)
}

// Labels returns the channel labels in configuration order.
func (s *ADS1115Source) Labels() []string {
	return s.labels
}

// Close halts every bound pin.
func (s *ADS1115Source) Close() error {
	var errs []error
	for _, p := range s.halt {
		if err := p.Halt(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func readAll(pins []sampleReader) ([]logic.Fixed, error) {
	out := make([]logic.Fixed, len(pins))
	for i, p := range pins {
		v, err := p.Read()
		if err != nil {
			return nil, fmt.Errorf("read channel %d: %w", i, err)
		}
		out[i] = volts(v.V)
	}
	return out, nil
}

// volts splits a potential into whole volts and microvolts.
func volts(v physic.ElectricPotential) logic.Fixed {
	return logic.Fixed{
		Int:   int32(v / physic.Volt),
		Micro: int32(v % physic.Volt / physic.MicroVolt),
	}
}
