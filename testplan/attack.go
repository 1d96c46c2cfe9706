package testplan

// AttackMode determines how the Coordinator computes each agent's
// absolute start/end instants.
type AttackMode int

const (
	// Sequential chains each agent's start off the previous agent's end.
	Sequential AttackMode = iota
	// Concurrent starts every agent from the same instant.
	Concurrent
)

func (m AttackMode) String() string {
	if m == Concurrent {
		return "concurrent"
	}
	return "sequential"
}

// AgentSpec is one entry in the attack's ordered agent list: a type tag
// resolved against the Agent Registry, and the agent's raw, not-yet-
// validated configuration.
type AgentSpec struct {
	Type   string
	Config map[string]any
}

// AttackConfig is the attack half of a Plan: the target, its execution
// mode, and its ordered agent list.
type AttackConfig struct {
	Target TargetDescriptor
	Mode   AttackMode
	Agents []AgentSpec
}
