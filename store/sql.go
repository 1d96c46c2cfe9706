package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yahoo/ychaos/coordinator"
	"github.com/yahoo/ychaos/internal/database"
	"github.com/yahoo/ychaos/testplan"
	"github.com/yahoo/ychaos/verification"
)

// reportRow is the GORM model backing the reports table (see
// internal/migration/migrations/*/000001_create_reports).
type reportRow struct {
	PlanID      string `gorm:"primaryKey;column:plan_id"`
	Mode        string `gorm:"column:mode"`
	WindowStart time.Time
	WindowEnd   time.Time
	ExitCode    int
	Agents      string `gorm:"column:agents"` // JSON-encoded []coordinator.AgentReport
	CreatedAt   time.Time
}

func (reportRow) TableName() string { return "reports" }

// verificationDataRow is the GORM model backing the verification_data
// table, one row per verification index within a plan.
type verificationDataRow struct {
	PlanID    string `gorm:"primaryKey;column:plan_id"`
	Seq       int    `gorm:"primaryKey;column:seq"`
	Data      string `gorm:"column:data"` // JSON-encoded verification.Data.EncodedDict()
	UpdatedAt time.Time
}

func (verificationDataRow) TableName() string { return "verification_data" }

// SQLStore implements ReportStore and VerificationDataStore against a
// GORM-backed SQL database (postgres, mysql, or sqlite, matching
// internal/migration's supported drivers).
type SQLStore struct {
	pool *database.PoolManager
}

// NewSQLStore builds a SQLStore against an already-opened, migrated
// connection pool.
func NewSQLStore(pool *database.PoolManager) *SQLStore {
	return &SQLStore{pool: pool}
}

func (s *SQLStore) SaveReport(ctx context.Context, report *coordinator.Report) error {
	agentsJSON, err := json.Marshal(report.Agents)
	if err != nil {
		return err
	}

	row := reportRow{
		PlanID:      report.PlanID,
		Mode:        report.Mode.String(),
		WindowStart: report.WindowStart,
		WindowEnd:   report.WindowEnd,
		ExitCode:    report.ExitCode,
		Agents:      string(agentsJSON),
		CreatedAt:   time.Now().UTC(),
	}

	return s.pool.DB().WithContext(ctx).Save(&row).Error
}

func (s *SQLStore) LoadReport(ctx context.Context, planID string) (*coordinator.Report, error) {
	var row reportRow
	if err := s.pool.DB().WithContext(ctx).First(&row, "plan_id = ?", planID).Error; err != nil {
		return nil, err
	}

	var agents []coordinator.AgentReport
	if err := json.Unmarshal([]byte(row.Agents), &agents); err != nil {
		return nil, err
	}

	mode, _ := parseAttackModeName(row.Mode)
	return &coordinator.Report{
		PlanID:      row.PlanID,
		Mode:        mode,
		WindowStart: row.WindowStart,
		WindowEnd:   row.WindowEnd,
		Agents:      agents,
		ExitCode:    row.ExitCode,
	}, nil
}

func (s *SQLStore) SaveData(ctx context.Context, planID string, data []*verification.Data) error {
	return s.pool.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for seq, d := range data {
			encoded, err := json.Marshal(d.EncodedDict())
			if err != nil {
				return err
			}
			row := verificationDataRow{
				PlanID:    planID,
				Seq:       seq,
				Data:      string(encoded),
				UpdatedAt: time.Now().UTC(),
			}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) LoadData(ctx context.Context, planID string) ([]*verification.Data, error) {
	var rows []verificationDataRow
	if err := s.pool.DB().WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("seq asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("store: no verification data for plan")
	}

	out := make([]*verification.Data, len(rows))
	for i, row := range rows {
		var encoded map[string]any
		if err := json.Unmarshal([]byte(row.Data), &encoded); err != nil {
			return nil, err
		}
		out[i] = verification.FromEncodedDict(encoded)
	}
	return out, nil
}

// Migrate auto-creates the reports and verification_data tables via
// GORM, as a fallback for callers not running internal/migration's
// golang-migrate-driven SQL migrations.
func (s *SQLStore) Migrate() error {
	return s.pool.DB().AutoMigrate(&reportRow{}, &verificationDataRow{})
}

func parseAttackModeName(s string) (testplan.AttackMode, bool) {
	if s == "concurrent" {
		return testplan.Concurrent, true
	}
	return testplan.Sequential, true
}
