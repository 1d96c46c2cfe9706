// Package plugins implements the verification plugin types named in the
// engine's verification-type catalogue: a no-op, a subprocess script
// runner, an HTTP probe, a time-series-metric comparator, and a CI-job
// trigger.
package plugins

import (
	"context"
	"time"

	"github.com/yahoo/ychaos/verification"
)

const TypeNoOp = "no-op"

type noOp struct{}

// NewNoOp always succeeds; useful as a placeholder verification or in
// tests that only exercise the controller's gating logic.
func NewNoOp(config map[string]any, data *verification.Data) (verification.Plugin, error) {
	return &noOp{}, nil
}

func (n *noOp) RunVerification(ctx context.Context) *verification.StateData {
	return &verification.StateData{ReturnCode: 0, Timestamp: time.Now().UTC(), Type: TypeNoOp}
}
