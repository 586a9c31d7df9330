package acquire

// ScrollState is the position of one scroll-harvest loop in its lifecycle.
type ScrollState int

// Scroll loop states. The driver maps each state to a scroll behavior:
// Scrolling is a normal step, Stalled asks for a longer settle, Recovering
// asks for an aggressive jump, Done stops the loop.
const (
	StateScrolling ScrollState = iota
	StateStalled
	StateRecovering
	StateDone
)

func (s ScrollState) String() string {
	switch s {
	case StateScrolling:
		return "scrolling"
	case StateStalled:
		return "stalled"
	case StateRecovering:
		return "recovering"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ScrollPolicy bounds one scroll-harvest loop.
type ScrollPolicy struct {
	// MaxScrolls is the hard budget of scroll steps.
	MaxScrolls int
	// StagnantLimit is how many consecutive no-new observations move the
	// loop from Scrolling to Stalled.
	StagnantLimit int
}

// ScrollMachine is a pure stagnation tracker for a scroll loop. It never
// touches the browser; the driver observes extraction results into it and
// reads the next state out.
type ScrollMachine struct {
	policy  ScrollPolicy
	state   ScrollState
	scrolls int
	noNew   int
}

// NewScrollMachine creates a machine in the Scrolling state.
func NewScrollMachine(policy ScrollPolicy) *ScrollMachine {
	if policy.MaxScrolls <= 0 {
		policy.MaxScrolls = 1
	}
	if policy.StagnantLimit <= 0 {
		policy.StagnantLimit = 1
	}
	return &ScrollMachine{policy: policy}
}

// State returns the current state.
func (m *ScrollMachine) State() ScrollState {
	return m.state
}

// Done reports whether the loop should stop.
func (m *ScrollMachine) Done() bool {
	return m.state == StateDone
}

// Scrolls returns the number of observations consumed so far.
func (m *ScrollMachine) Scrolls() int {
	return m.scrolls
}

// Observe consumes the result of one scroll-and-extract step. Any new
// records reset stagnation; consecutive empty steps walk the machine through
// Stalled and Recovering before Done. The scroll budget overrides everything.
func (m *ScrollMachine) Observe(newRecords int) ScrollState {
	if m.state == StateDone {
		return m.state
	}
	m.scrolls++

	if newRecords > 0 {
		m.noNew = 0
		m.state = StateScrolling
	} else {
		m.noNew++
		switch m.state {
		case StateScrolling:
			if m.noNew >= m.policy.StagnantLimit {
				m.state = StateStalled
			}
		case StateStalled:
			m.state = StateRecovering
		case StateRecovering:
			m.state = StateDone
		}
	}

	if m.scrolls >= m.policy.MaxScrolls {
		m.state = StateDone
	}
	return m.state
}
