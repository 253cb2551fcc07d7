package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	Filtered      uint32     `json:"filtered"`
	Raw           uint32     `json:"raw"`
	LastOutcome   string     `json:"last_outcome"`
	Iterations    int        `json:"iterations"`
	Transitions   int        `json:"transitions"`
	DroppedEdges  uint64     `json:"dropped_edges"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Counts        CountsJSON `json:"cycle_counts"`
	Config        ConfigJSON `json:"config"`
}

// CountsJSON is the JSON representation of cycle counts.
type CountsJSON struct {
	Measured  int `json:"measured"`
	Timeouts  int `json:"timeouts"`
	Overflows int `json:"overflows"`
	Stuck     int `json:"stuck"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode           string `json:"mode"`
	Backend        string `json:"backend"`
	Strategy       string `json:"strategy"`
	Units          string `json:"units,omitempty"`
	TimeoutPolicy  string `json:"timeout_policy"`
	CadenceMs      int64  `json:"cadence_ms"`
	SettleMs       int64  `json:"settle_ms"`
	CaptureMs      int64  `json:"capture_ms"`
	BusyWaitBudget int    `json:"busywait_budget,omitempty"`
	Filter         string `json:"filter"`
	Threshold      uint32 `json:"threshold"`
	Hysteresis     uint32 `json:"hysteresis"`
	ReportEvery    int    `json:"report_every"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}
	outcome := snap.LastOutcome.String()
	if snap.Iterations == 0 {
		outcome = "NONE"
	}

	return StatusInner{
		State:         state,
		Filtered:      snap.Filtered,
		Raw:           snap.Raw,
		LastOutcome:   outcome,
		Iterations:    snap.Iterations,
		Transitions:   snap.Transitions,
		DroppedEdges:  snap.DroppedEdges,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Counts: CountsJSON{
			Measured:  snap.Counts.Measured,
			Timeouts:  snap.Counts.Timeouts,
			Overflows: snap.Counts.Overflows,
			Stuck:     snap.Counts.Stuck,
		},
		Config: ConfigJSON{
			Mode:           snap.Config.Mode,
			Backend:        snap.Config.Backend,
			Strategy:       snap.Config.Strategy,
			Units:          snap.Config.Units,
			TimeoutPolicy:  snap.Config.TimeoutPolicy,
			CadenceMs:      snap.Config.CadenceMs,
			SettleMs:       snap.Config.SettleMs,
			CaptureMs:      snap.Config.CaptureMs,
			BusyWaitBudget: snap.Config.BusyWaitBudget,
			Filter:         fmt.Sprintf("%d/%d", snap.Config.Weight, snap.Config.Denominator),
			Threshold:      snap.Config.Threshold,
			Hysteresis:     snap.Config.Hysteresis,
			ReportEvery:    snap.Config.ReportEvery,
		},
	}
}

// FormatJSON returns the JSON status printed by --print-state.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the single-line JSON status logged for a
// lifecycle event such as STARTUP or SHUTDOWN.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatReport returns the periodic report line: the state label, then the
// filtered value and the most recent raw measurement.
func FormatReport(snap Snapshot) string {
	return fmt.Sprintf("%s        Time: %d / %d", snap.Label, snap.Filtered, snap.Raw)
}
