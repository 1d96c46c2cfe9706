package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/yahoo/ychaos/coordinator"
	"github.com/yahoo/ychaos/verification"
)

// mongoReportDoc is the BSON shape of a stored attack report.
type mongoReportDoc struct {
	PlanID      string                      `bson:"plan_id"`
	Mode        string                      `bson:"mode"`
	WindowStart time.Time                   `bson:"window_start"`
	WindowEnd   time.Time                   `bson:"window_end"`
	ExitCode    int                         `bson:"exit_code"`
	Agents      []coordinator.AgentReport   `bson:"agents"`
	CreatedAt   time.Time                   `bson:"created_at"`
}

// mongoVerificationDataDoc is the BSON shape of one plan's accumulated
// verification data, stored as a single document keyed by plan ID.
type mongoVerificationDataDoc struct {
	PlanID    string           `bson:"plan_id"`
	Encoded   []map[string]any `bson:"encoded"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

// MongoStore implements ReportStore and VerificationDataStore against a
// MongoDB collection pair, for deployments that centralize chaos-run
// artefacts in a document store rather than a relational one.
type MongoStore struct {
	reports       *mongo.Collection
	verifications *mongo.Collection
}

// NewMongoStore builds a MongoStore against database's "reports" and
// "verification_data" collections.
func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{
		reports:       database.Collection("reports"),
		verifications: database.Collection("verification_data"),
	}
}

// Connect dials uri and returns a ready-to-use *mongo.Client. Callers
// are responsible for calling Disconnect on shutdown.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("store: ping mongo: %w", err)
	}
	return client, nil
}

func (m *MongoStore) SaveReport(ctx context.Context, report *coordinator.Report) error {
	doc := mongoReportDoc{
		PlanID:      report.PlanID,
		Mode:        report.Mode.String(),
		WindowStart: report.WindowStart,
		WindowEnd:   report.WindowEnd,
		ExitCode:    report.ExitCode,
		Agents:      report.Agents,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := m.reports.ReplaceOne(ctx,
		bson.D{{Key: "plan_id", Value: report.PlanID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) LoadReport(ctx context.Context, planID string) (*coordinator.Report, error) {
	var doc mongoReportDoc
	err := m.reports.FindOne(ctx, bson.D{{Key: "plan_id", Value: planID}}).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("store: load report %q: %w", planID, err)
	}

	mode, _ := parseAttackModeName(doc.Mode)
	return &coordinator.Report{
		PlanID:      doc.PlanID,
		Mode:        mode,
		WindowStart: doc.WindowStart,
		WindowEnd:   doc.WindowEnd,
		Agents:      doc.Agents,
		ExitCode:    doc.ExitCode,
	}, nil
}

func (m *MongoStore) SaveData(ctx context.Context, planID string, data []*verification.Data) error {
	encoded := make([]map[string]any, len(data))
	for i, d := range data {
		encoded[i] = d.EncodedDict()
	}

	doc := mongoVerificationDataDoc{
		PlanID:    planID,
		Encoded:   encoded,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := m.verifications.ReplaceOne(ctx,
		bson.D{{Key: "plan_id", Value: planID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) LoadData(ctx context.Context, planID string) ([]*verification.Data, error) {
	var doc mongoVerificationDataDoc
	err := m.verifications.FindOne(ctx, bson.D{{Key: "plan_id", Value: planID}}).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("store: load verification data %q: %w", planID, err)
	}

	out := make([]*verification.Data, len(doc.Encoded))
	for i, e := range doc.Encoded {
		out[i] = verification.FromEncodedDict(e)
	}
	return out, nil
}
