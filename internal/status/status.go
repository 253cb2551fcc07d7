// Package status provides a thread-safe status tracker for the soil-sensor daemon.
// The control loop writes it; --print-state and the shutdown path read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/soil-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Mode           string
	Backend        string
	Strategy       string
	Units          string
	TimeoutPolicy  string
	CadenceMs      int64
	SettleMs       int64
	CaptureMs      int64
	BusyWaitBudget int
	Weight         uint32
	Denominator    uint32
	Threshold      uint32
	Hysteresis     uint32
	ReportEvery    int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State        logic.State
	Label        string
	Filtered     uint32
	Raw          uint32
	LastOutcome  logic.Kind
	Iterations   int
	Counts       logic.CycleCounts
	Transitions  int
	DroppedEdges uint64
	StartTime    time.Time
	Now          time.Time
	Config       Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Reading is the per-report state the control loop publishes.
type Reading struct {
	State       logic.State
	Label       string
	Filtered    uint32
	Raw         uint32
	LastOutcome logic.Kind
	Iterations  int
	Counts      logic.CycleCounts
	Transitions int
	Dropped     uint64
}

// Update replaces the measurement state. Called by the control loop on
// every report.
func (t *Tracker) Update(r Reading) {
	t.mu.Lock()
	t.snap.State = r.State
	t.snap.Label = r.Label
	t.snap.Filtered = r.Filtered
	t.snap.Raw = r.Raw
	t.snap.LastOutcome = r.LastOutcome
	t.snap.Iterations = r.Iterations
	t.snap.Counts = r.Counts
	t.snap.Transitions = r.Transitions
	t.snap.DroppedEdges = r.Dropped
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
