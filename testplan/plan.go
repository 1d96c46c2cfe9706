// Package testplan implements the Plan Model: the immutable, validated
// description of an attack and its verifications that the engine
// consumes read-only for exactly one run.
package testplan

import "github.com/google/uuid"

// Plan is a stable-identified attack plus its ordered verification list.
// The engine treats a Plan as read-only for its entire run.
type Plan struct {
	ID            string
	Attack        AttackConfig
	Verifications []VerificationSpec
}

// NewPlan constructs a Plan with a freshly generated identifier.
func NewPlan(attack AttackConfig, verifications []VerificationSpec) *Plan {
	return &Plan{
		ID:            uuid.NewString(),
		Attack:        attack,
		Verifications: verifications,
	}
}

// Validate checks the plan's target descriptor invariants. Agent and
// verification config subtrees are validated by their respective
// registries at instantiation time, not here.
func (p *Plan) Validate() error {
	return p.Attack.Target.Validate()
}
