package testplan

import "time"

// SystemState labels the system's state when a set of verifications is
// run: before the attack, during it, or after recovery.
type SystemState int

const (
	Steady SystemState = iota
	Chaos
	Recovered
)

func (s SystemState) String() string {
	switch s {
	case Steady:
		return "STEADY"
	case Chaos:
		return "CHAOS"
	case Recovered:
		return "RECOVERED"
	default:
		return "UNKNOWN"
	}
}

// AllSystemStates lists every SystemState in canonical order, useful for
// building a verification's default applicability set.
var AllSystemStates = []SystemState{Steady, Chaos, Recovered}

// ParseSystemState maps a SystemState's String() form back to its value.
func ParseSystemState(s string) (SystemState, bool) {
	switch s {
	case "STEADY":
		return Steady, true
	case "CHAOS":
		return Chaos, true
	case "RECOVERED":
		return Recovered, true
	default:
		return 0, false
	}
}

// VerificationSpec is one entry in a plan's verification list: timing
// around the probe, the states it applies to, its type tag, its
// strict/non-strict gating flag, and its type-specific raw config.
type VerificationSpec struct {
	DelayBefore time.Duration
	DelayAfter  time.Duration
	States      []SystemState
	Type        string
	Strict      bool
	Config      map[string]any
}

// AppliesTo reports whether this verification is configured to run in
// the given system state.
func (v VerificationSpec) AppliesTo(state SystemState) bool {
	for _, s := range v.States {
		if s == state {
			return true
		}
	}
	return false
}
