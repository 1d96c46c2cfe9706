package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yahoo/ychaos/coordinator"
	"github.com/yahoo/ychaos/verification"
)

// FileStore persists reports and verification data as JSON files under a
// directory root, one file per plan ID per artefact kind. This is the
// default, always-available backend; SQL/Mongo/Redis backends are opt-in
// for deployments that centralize report storage.
type FileStore struct {
	Dir string
}

// NewFileStore constructs a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir %q: %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

func (f *FileStore) reportPath(planID string) string {
	return filepath.Join(f.Dir, planID+".report.json")
}

func (f *FileStore) dataPath(planID string) string {
	return filepath.Join(f.Dir, planID+".verification.json")
}

func (f *FileStore) SaveReport(ctx context.Context, report *coordinator.Report) error {
	data, err := json.MarshalIndent(report, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.reportPath(report.PlanID), data, 0o644)
}

func (f *FileStore) LoadReport(ctx context.Context, planID string) (*coordinator.Report, error) {
	data, err := os.ReadFile(f.reportPath(planID))
	if err != nil {
		return nil, err
	}
	var report coordinator.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (f *FileStore) SaveData(ctx context.Context, planID string, data []*verification.Data) error {
	encoded := make([]map[string]any, len(data))
	for i, d := range data {
		encoded[i] = d.EncodedDict()
	}
	raw, err := json.MarshalIndent(encoded, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.dataPath(planID), raw, 0o644)
}

func (f *FileStore) LoadData(ctx context.Context, planID string) ([]*verification.Data, error) {
	raw, err := os.ReadFile(f.dataPath(planID))
	if err != nil {
		return nil, err
	}
	var encoded []map[string]any
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, err
	}
	out := make([]*verification.Data, len(encoded))
	for i, e := range encoded {
		out[i] = verification.FromEncodedDict(e)
	}
	return out, nil
}
