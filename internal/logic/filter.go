package logic

import "fmt"

// TimeoutPolicy decides what a capture timeout does to the filter.
type TimeoutPolicy string

const (
	// PolicyHold leaves the filter state unchanged on timeout.
	PolicyHold TimeoutPolicy = "hold"
	// PolicySaturate feeds the timeout ceiling into the filter, so a sensor
	// that never sees an edge drifts to the ceiling.
	PolicySaturate TimeoutPolicy = "saturate"
)

// ParseTimeoutPolicy validates a policy name.
func ParseTimeoutPolicy(s string) (TimeoutPolicy, error) {
	switch p := TimeoutPolicy(s); p {
	case PolicyHold, PolicySaturate:
		return p, nil
	case "":
		return PolicyHold, nil
	}
	return "", fmt.Errorf("unknown timeout policy %q", s)
}

// Filter is an integer exponential moving average.
//
// Each update computes
//
//	S' = ((Denominator-Weight)*S + Weight*x + Denominator/2) / Denominator
//
// so a sample contributes Weight/Denominator of the new state. Rounding by
// half the denominator keeps the state from drifting low.
type Filter struct {
	Weight      uint32
	Denominator uint32
	State       uint32
}

// NewFilter creates a filter with zero initial state.
func NewFilter(weight, denominator uint32) (*Filter, error) {
	if denominator == 0 {
		return nil, fmt.Errorf("filter denominator must be positive")
	}
	if weight == 0 || weight > denominator {
		return nil, fmt.Errorf("filter weight %d out of range (0, %d]", weight, denominator)
	}
	return &Filter{Weight: weight, Denominator: denominator}, nil
}

// Update folds sample x into the state and returns the new state.
func (f *Filter) Update(x uint32) uint32 {
	d := uint64(f.Denominator)
	w := uint64(f.Weight)
	s := ((d-w)*uint64(f.State) + w*uint64(x) + d/2) / d
	f.State = uint32(s)
	return f.State
}

// Apply feeds a cycle outcome into the filter. It returns true if the state
// was updated. Stuck pins and timestamp overflows never touch the state;
// capture timeouts follow policy.
func (f *Filter) Apply(o Outcome, policy TimeoutPolicy, ceiling uint32) bool {
	switch {
	case o.Kind == Measured:
		f.Update(o.Value)
		return true
	case o.Kind == TimedOut && !o.IsOverflow() && policy == PolicySaturate:
		f.Update(ceiling)
		return true
	}
	return false
}
