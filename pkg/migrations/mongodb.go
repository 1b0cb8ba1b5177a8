package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	decisionsCollection = "notification_decisions"
	batchesCollection   = "notification_batches"
)

// EnsureMongoCollections creates the analytics collections and their
// indexes. It is safe to call on every start.
func EnsureMongoCollections(ctx context.Context, db *mongo.Database) error {
	existing, err := db.ListCollectionNames(ctx, bson.M{
		"name": bson.M{"$in": []string{decisionsCollection, batchesCollection}},
	})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	for _, name := range []string{decisionsCollection, batchesCollection} {
		if present[name] {
			continue
		}
		if err := db.CreateCollection(ctx, name); err != nil && !alreadyExists(err) {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}

	if err := createIndexes(ctx, db.Collection(decisionsCollection), decisionIndexes()); err != nil {
		return err
	}
	return createIndexes(ctx, db.Collection(batchesCollection), batchIndexes())
}

func decisionIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_decisions_event_id"),
		},
		{
			Keys:    bson.D{{Key: "team_id", Value: 1}, {Key: "decided_at", Value: -1}},
			Options: options.Index().SetName("idx_decisions_team_decided_at"),
		},
		{
			Keys:    bson.D{{Key: "action", Value: 1}, {Key: "stage", Value: 1}, {Key: "decided_at", Value: -1}},
			Options: options.Index().SetName("idx_decisions_action_stage"),
		},
	}
}

func batchIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}, {Key: "flushed_at", Value: -1}},
			Options: options.Index().SetName("idx_batches_channel_flushed_at"),
		},
		{
			Keys:    bson.D{{Key: "reason", Value: 1}},
			Options: options.Index().SetName("idx_batches_reason"),
		},
	}
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil && !alreadyExists(err) {
		return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
	}
	return nil
}

func alreadyExists(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}
