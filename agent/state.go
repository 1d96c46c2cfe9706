package agent

import "fmt"

// State is a totally ordered lifecycle stage for an Agent. Negative values
// are terminal-failure states; non-negative values form the happy-path
// progression. States never move backward through the non-negative half,
// but a failure state may be entered from any state.
type State int

const (
	StateSkipped State = iota - 3
	StateAborted
	StateError
	StateUndefined
	StateInit
	StateSetup
	StateRunning
	StateCompleted
	StateTeardown
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSkipped:
		return "SKIPPED"
	case StateAborted:
		return "ABORTED"
	case StateError:
		return "ERROR"
	case StateUndefined:
		return "UNDEFINED"
	case StateInit:
		return "INIT"
	case StateSetup:
		return "SETUP"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateTeardown:
		return "TEARDOWN"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Failed reports whether s is one of the terminal-failure states.
func (s State) Failed() bool {
	return s < StateUndefined
}

// Terminal reports whether s ends the Agent's lifecycle: either a failure
// state or the final happy-path state DONE.
func (s State) Terminal() bool {
	return s.Failed() || s == StateDone
}
