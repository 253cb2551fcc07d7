package logic

// State is the discrete label reported for the filtered signal.
type State string

const (
	StateUnknown  State = ""
	StateActive   State = "ACTIVE"
	StateInactive State = "INACTIVE"
)

// Transition is emitted when the classified state changes.
type Transition struct {
	From  State
	To    State
	Value uint32
}

// Classifier turns a filtered value into ACTIVE/INACTIVE.
//
// With Hysteresis 0 the rule is value >= Threshold. With a positive band an
// ACTIVE classification only drops back once value < Threshold-Hysteresis.
type Classifier struct {
	Threshold  uint32
	Hysteresis uint32

	current     State
	transitions int
}

// NewClassifier creates a classifier with no established state.
func NewClassifier(threshold, hysteresis uint32) *Classifier {
	if hysteresis > threshold {
		hysteresis = threshold
	}
	return &Classifier{Threshold: threshold, Hysteresis: hysteresis}
}

// Classify returns the state for v and, if it differs from the previous
// state, the transition. The first classification never reports one.
func (c *Classifier) Classify(v uint32) (State, *Transition) {
	next := c.next(v)
	prev := c.current
	c.current = next

	if prev == StateUnknown || prev == next {
		return next, nil
	}
	c.transitions++
	return next, &Transition{From: prev, To: next, Value: v}
}

func (c *Classifier) next(v uint32) State {
	if c.current == StateActive && c.Hysteresis > 0 {
		if v < c.Threshold-c.Hysteresis {
			return StateInactive
		}
		return StateActive
	}
	if v >= c.Threshold {
		return StateActive
	}
	return StateInactive
}

// Current returns the last classified state.
func (c *Classifier) Current() State {
	return c.current
}

// Transitions returns how many state changes have been reported.
func (c *Classifier) Transitions() int {
	return c.transitions
}
