// Package store implements the persistence backends for the engine's two
// durable artefacts: the Coordinator's attack Report and the
// Verification Controller's per-state Data, so the latter can survive
// from a STEADY-phase run into a later CHAOS-phase process.
package store

import (
	"context"

	"github.com/yahoo/ychaos/coordinator"
	"github.com/yahoo/ychaos/verification"
)

// ReportStore persists and retrieves attack reports, keyed by plan ID.
type ReportStore interface {
	SaveReport(ctx context.Context, report *coordinator.Report) error
	LoadReport(ctx context.Context, planID string) (*coordinator.Report, error)
}

// VerificationDataStore persists and retrieves a plan's accumulated
// verification Data, keyed by plan ID, so a later process (e.g. a
// CHAOS-phase verification run) can extend STEADY-phase data in place.
type VerificationDataStore interface {
	SaveData(ctx context.Context, planID string, data []*verification.Data) error
	LoadData(ctx context.Context, planID string) ([]*verification.Data, error)
}
