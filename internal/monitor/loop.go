// Package monitor runs the capacitive measurement loop: one cycle per tick,
// smoothing, periodic classification and reporting.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/soil-sensor/internal/edge"
	"github.com/sweeney/soil-sensor/internal/gpio"
	"github.com/sweeney/soil-sensor/internal/logic"
	"github.com/sweeney/soil-sensor/internal/status"
)

// Cycle is one measurement cycle. *measure.Cycle implements it.
type Cycle interface {
	Run() logic.Outcome
	// Ceiling is the sample fed to the filter on timeout under PolicySaturate.
	Ceiling() uint32
	Events() *edge.Channel
}

// Config controls reporting and classification.
type Config struct {
	// LEDPin is toggled once per iteration. Empty disables it.
	LEDPin        string
	Policy        logic.TimeoutPolicy
	Threshold     uint32
	Hysteresis    uint32
	ReportEvery   int
	ActiveLabel   string
	InactiveLabel string
}

// Loop owns the filter state and everything else that spans cycles.
type Loop struct {
	cfg        Config
	cycle      Cycle
	pins       gpio.Controller
	filter     *logic.Filter
	classifier *logic.Classifier
	tracker    *status.Tracker
	log        *logrus.Entry

	led        int
	iterations int
	raw        uint32
	last       logic.Kind
	counts     logic.CycleCounts
	dropped    uint64
}

// New creates a Loop. tracker may be nil.
func New(cfg Config, cycle Cycle, pins gpio.Controller, filter *logic.Filter, tracker *status.Tracker, log *logrus.Entry) (*Loop, error) {
	if cycle == nil || filter == nil {
		return nil, errors.New("monitor needs a cycle and a filter")
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 1
	}
	if cfg.Policy == "" {
		cfg.Policy = logic.PolicyHold
	}
	return &Loop{
		cfg:        cfg,
		cycle:      cycle,
		pins:       pins,
		filter:     filter,
		classifier: logic.NewClassifier(cfg.Threshold, cfg.Hysteresis),
		tracker:    tracker,
		log:        log,
	}, nil
}

// Run calls Step on every tick until ctx is done. A nil tick runs cycles
// back to back; the capture wait then sets the pace.
func (l *Loop) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		if tick == nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.Step()
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			l.Step()
		}
	}
}

// Step runs one iteration and returns the cycle outcome.
func (l *Loop) Step() logic.Outcome {
	l.toggleLED()

	out := l.cycle.Run()
	l.iterations++
	l.counts.Record(out)
	l.last = out.Kind
	if out.Kind != logic.PinStuck {
		l.raw = out.Value
	}

	updated := l.filter.Apply(out, l.cfg.Policy, l.cycle.Ceiling())
	l.logOutcome(out, updated)
	l.checkDropped()

	if l.iterations%l.cfg.ReportEvery == 0 {
		l.report()
	}
	return out
}

func (l *Loop) toggleLED() {
	if l.cfg.LEDPin == "" || l.pins == nil {
		return
	}
	l.led ^= 1
	if err := l.pins.Set(l.cfg.LEDPin, l.led); err != nil {
		l.log.WithError(err).Warn("led toggle failed")
	}
}

func (l *Loop) logOutcome(out logic.Outcome, updated bool) {
	entry := l.log.WithFields(logrus.Fields{
		"iteration": l.iterations,
		"raw":       out.Value,
		"filtered":  l.filter.State,
	})
	switch {
	case out.Kind == logic.Measured:
		entry.Debug("cycle measured")
	case out.Kind == logic.PinStuck:
		entry.WithError(out.Err).Warn("sense pin stuck, cycle abandoned")
	case out.IsOverflow():
		entry.WithError(out.Err).Warn("timestamp overflow, sample discarded")
	default:
		entry.WithError(out.Err).WithField("saturated", updated).Warn("capture timed out")
	}
}

func (l *Loop) checkDropped() {
	events := l.cycle.Events()
	if events == nil {
		return
	}
	if n := events.Dropped(); n != l.dropped {
		l.log.WithField("total", n).Warnf("edge queue full, %d events dropped", n-l.dropped)
		l.dropped = n
	}
}

func (l *Loop) report() {
	state, tr := l.classifier.Classify(l.filter.State)
	if tr != nil {
		l.log.WithFields(logrus.Fields{
			"from":     tr.From,
			"to":       tr.To,
			"filtered": tr.Value,
		}).Info("state changed")
	}

	label := l.cfg.InactiveLabel
	if state == logic.StateActive {
		label = l.cfg.ActiveLabel
	}
	r := status.Reading{
		State:       state,
		Label:       label,
		Filtered:    l.filter.State,
		Raw:         l.raw,
		LastOutcome: l.last,
		Iterations:  l.iterations,
		Counts:      l.counts,
		Transitions: l.classifier.Transitions(),
		Dropped:     l.dropped,
	}
	if l.tracker != nil {
		l.tracker.Update(r)
	}
	l.log.Info(status.FormatReport(status.Snapshot{Label: label, Filtered: r.Filtered, Raw: r.Raw}))
}

// Filtered returns the current filter state.
func (l *Loop) Filtered() uint32 {
	return l.filter.State
}

// State returns the last reported classification.
func (l *Loop) State() logic.State {
	return l.classifier.Current()
}

// Counts returns the outcome counts since startup.
func (l *Loop) Counts() logic.CycleCounts {
	return l.counts
}

// Iterations returns how many cycles have run.
func (l *Loop) Iterations() int {
	return l.iterations
}
