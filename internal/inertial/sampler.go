// Package inertial averages IMU readings over a fixed window and reports
// the means periodically.
package inertial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/soil-sensor/internal/logic"
)

// ErrSourceFailed is returned by Run once a sample could not be fetched
// within the retry limit. Sampling stops at that point.
var ErrSourceFailed = errors.New("sensor fetch retries exhausted")

// Reading is one sample of every sensor channel, three axes each.
type Reading struct {
	Accel [3]logic.Fixed
	Gyro  [3]logic.Fixed
	Magn  [3]logic.Fixed
}

// values flattens the reading in report order: gyro, accel, magn.
func (r Reading) values() []logic.Fixed {
	out := make([]logic.Fixed, 0, 9)
	out = append(out, r.Gyro[:]...)
	out = append(out, r.Accel[:]...)
	return append(out, r.Magn[:]...)
}

// Source produces readings.
type Source interface {
	Fetch() (Reading, error)
}

// Config controls sampling.
type Config struct {
	Window  int
	Retries int
}

// Sampler feeds readings into a fixed-window averager.
type Sampler struct {
	cfg Config
	src Source
	log *logrus.Entry

	mu      sync.Mutex
	avg     *logic.Averager
	windows int
	means   []float64
}

// NewSampler creates a Sampler.
func NewSampler(cfg Config, src Source, log *logrus.Entry) *Sampler {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Sampler{
		cfg: cfg,
		src: src,
		log: log,
		avg: logic.NewAverager(cfg.Window, 9),
	}
}

// Sample fetches one reading, retrying up to the configured limit, and
// adds it to the current window.
func (s *Sampler) Sample() error {
	var err error
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		var r Reading
		r, err = s.src.Fetch()
		if err == nil {
			s.add(r)
			return nil
		}
		s.log.WithError(err).WithField("attempt", attempt).Warn("sensor fetch failed")
	}
	return fmt.Errorf("%w: %v", ErrSourceFailed, err)
}

func (s *Sampler) add(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if means, ok := s.avg.Add(r.values()); ok {
		s.means = means
		s.windows++
	}
}

// Report logs the latest window means and how many windows completed since
// the previous report, then resets that count. Nothing is logged before
// the first window completes.
func (s *Sampler) Report() {
	s.mu.Lock()
	windows, means := s.windows, s.means
	s.windows = 0
	s.mu.Unlock()

	if means == nil {
		return
	}
	s.log.Info(FormatMeans(windows, means))
}

// Means returns the latest window means, or nil before the first window.
func (s *Sampler) Means() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.means
}

// Run samples on each sample tick and reports on each report tick until ctx
// is done or the source fails.
func (s *Sampler) Run(ctx context.Context, sample, report <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sample:
			if err := s.Sample(); err != nil {
				s.log.WithError(err).Error("sampling stopped")
				return err
			}
		case <-report:
			s.Report()
		}
	}
}

// FormatMeans renders "<windows> gx gy gz  ax ay az  mx my mz".
func FormatMeans(windows int, means []float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", windows)
	for i, m := range means {
		if i%3 == 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, " %.3f", m)
	}
	return b.String()
}
