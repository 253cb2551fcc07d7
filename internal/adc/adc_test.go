package adc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/soil-sensor/internal/logic"
)

type fakePin struct {
	v   physic.ElectricPotential
	err error
}

func (p fakePin) Read() (analog.Sample, error) {
	return analog.Sample{V: p.v}, p.err
}

type fakeSource struct {
	values [][]logic.Fixed
	errs   []error
	n      int
}

func (f *fakeSource) Read() ([]logic.Fixed, error) {
	i := f.n
	f.n++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.values[i%len(f.values)], nil
}

func TestChannelConfig(t *testing.T) {
	c := ChannelConfig{Gain: 1.0 / 6, Reference: 0.6, AcquisitionTime: 10 * time.Millisecond}

	assert.InDelta(t, float64(3600*physic.MilliVolt), float64(c.MaxVoltage()), float64(physic.MicroVolt))
	assert.Equal(t, 100*physic.Hertz, c.DataRate())
}

func TestVolts(t *testing.T) {
	assert.Equal(t, logic.Fixed{Int: 1, Micro: 250000}, volts(1250*physic.MilliVolt))
	assert.Equal(t, logic.Fixed{Int: -2, Micro: -500000}, volts(-2500*physic.MilliVolt))
	assert.Equal(t, logic.Fixed{Micro: 1}, volts(physic.MicroVolt+999))
}

func TestReadAll(t *testing.T) {
	got, err := readAll([]sampleReader{
		fakePin{v: 3300 * physic.MilliVolt},
		fakePin{v: 5 * physic.MilliVolt},
	})
	require.NoError(t, err)
	assert.Equal(t, []logic.Fixed{{Int: 3, Micro: 300000}, {Micro: 5000}}, got)

	_, err = readAll([]sampleReader{fakePin{}, fakePin{err: errors.New("busy")}})
	assert.ErrorContains(t, err, "read channel 1")
}

func TestSampler_AveragesWindow(t *testing.T) {
	src := &fakeSource{values: [][]logic.Fixed{
		{{Int: 1}, {Int: 2, Micro: 500000}},
		{{Int: 2}, {Int: 3, Micro: 500000}},
	}}
	logger, hook := test.NewNullLogger()
	s := NewSampler(src, []string{"a0", "a1"}, 2, logrus.NewEntry(logger))

	s.Sample()
	assert.Nil(t, s.Means())
	s.Sample()

	require.Len(t, s.Means(), 2)
	assert.InDelta(t, 1.5, s.Means()[0], 1e-9)
	assert.InDelta(t, 3.0, s.Means()[1], 1e-9)
	assert.Equal(t, "a0=1.500000V a1=3.000000V", hook.LastEntry().Message)
}

func TestSampler_SkipsFailedReads(t *testing.T) {
	src := &fakeSource{
		values: [][]logic.Fixed{{{Int: 1}}},
		errs:   []error{errors.New("nack")},
	}
	logger, hook := test.NewNullLogger()
	s := NewSampler(src, []string{"a0"}, 1, logrus.NewEntry(logger))

	s.Sample()
	assert.Equal(t, 1, s.Failures())
	assert.Nil(t, s.Means())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	s.Sample()
	assert.Equal(t, []float64{1}, s.Means())
}

func TestSampler_RunStopsOnCancel(t *testing.T) {
	src := &fakeSource{values: [][]logic.Fixed{{{Int: 1}}}}
	logger, _ := test.NewNullLogger()
	s := NewSampler(src, []string{"a0"}, 1, logrus.NewEntry(logger))
	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	done := make(chan error)

	go func() { done <- s.Run(ctx, tick) }()
	tick <- time.Now()
	tick <- time.Now()
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 2, src.n)
}
