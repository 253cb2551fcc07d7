// Package adc samples analog inputs and averages them over a fixed window.
package adc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/soil-sensor/internal/logic"
)

// Source converts every configured channel once.
type Source interface {
	Read() ([]logic.Fixed, error)
}

// Sampler averages Source readings and logs the means per window.
type Sampler struct {
	src    Source
	labels []string
	avg    *logic.Averager
	log    *logrus.Entry

	failures int
	means    []float64
}

// NewSampler creates a Sampler over len(labels) channels.
func NewSampler(src Source, labels []string, window int, log *logrus.Entry) *Sampler {
	return &Sampler{
		src:    src,
		labels: labels,
		avg:    logic.NewAverager(window, len(labels)),
		log:    log,
	}
}

// Sample reads once. A failed read is logged and the sample skipped; the
// next tick is the retry.
func (s *Sampler) Sample() {
	v, err := s.src.Read()
	if err != nil {
		s.failures++
		s.log.WithError(err).WithField("failures", s.failures).Warn("adc read failed")
		return
	}
	means, ok := s.avg.Add(v)
	if !ok {
		return
	}
	s.means = means
	s.log.Info(s.format(means))
}

// Means returns the latest window means, or nil before the first window.
func (s *Sampler) Means() []float64 {
	return s.means
}

// Failures returns how many reads failed.
func (s *Sampler) Failures() int {
	return s.failures
}

// Run samples on every tick until ctx is done.
func (s *Sampler) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s.Sample()
		}
	}
}

func (s *Sampler) format(means []float64) string {
	parts := make([]string, len(means))
	for i, m := range means {
		parts[i] = fmt.Sprintf("%s=%.6fV", s.labels[i], m)
	}
	return strings.Join(parts, " ")
}
