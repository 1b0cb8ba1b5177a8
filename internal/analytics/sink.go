package analytics

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hush/internal/constants"
	"hush/pkg/metrics"
)

// Sink persists analytics records. Implementations may be slow; the
// Recorder calls them from its own goroutine only.
type Sink interface {
	WriteDecisions(ctx context.Context, records []DecisionRecord) error
	WriteFlushes(ctx context.Context, records []FlushRecord) error
}

type NopSink struct{}

func (NopSink) WriteDecisions(context.Context, []DecisionRecord) error { return nil }
func (NopSink) WriteFlushes(context.Context, []FlushRecord) error      { return nil }

// MongoSink appends to the notification_decisions and notification_batches
// collections.
type MongoSink struct {
	decisions *mongo.Collection
	batches   *mongo.Collection
}

func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{
		decisions: db.Collection(constants.DecisionsCollection),
		batches:   db.Collection(constants.BatchesCollection),
	}
}

func (s *MongoSink) WriteDecisions(ctx context.Context, records []DecisionRecord) error {
	docs := make([]interface{}, len(records))
	for i := range records {
		docs[i] = records[i]
	}
	return insert(ctx, s.decisions, docs)
}

func (s *MongoSink) WriteFlushes(ctx context.Context, records []FlushRecord) error {
	docs := make([]interface{}, len(records))
	for i := range records {
		docs[i] = records[i]
	}
	return insert(ctx, s.batches, docs)
}

// insert is unordered so one duplicate id does not stop the rest.
func insert(ctx context.Context, collection *mongo.Collection, docs []interface{}) error {
	start := time.Now()
	_, err := collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	metrics.ObserveDatabaseQueryDuration(constants.ServiceName, "mongodb", "insert_many", time.Since(start))
	metrics.IncDatabaseQuery(constants.ServiceName, "mongodb", "insert_many", metrics.StatusLabel(err))
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection.Name(), err)
	}
	return nil
}
