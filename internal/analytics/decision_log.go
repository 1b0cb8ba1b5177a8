package analytics

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hush/internal/constants"
)

// DecisionQuery narrows a decision log lookup. Empty fields do not filter.
type DecisionQuery struct {
	EventID   string
	TeamID    string
	ChannelID string
	Action    string
	Limit     int
}

// DecisionLog reads back what MongoSink wrote.
type DecisionLog interface {
	ListDecisions(ctx context.Context, q DecisionQuery) ([]DecisionRecord, error)
	ListFlushes(ctx context.Context, channelID string, limit int) ([]FlushRecord, error)
}

type MongoDecisionLog struct {
	decisions *mongo.Collection
	batches   *mongo.Collection
}

func NewMongoDecisionLog(db *mongo.Database) *MongoDecisionLog {
	return &MongoDecisionLog{
		decisions: db.Collection(constants.DecisionsCollection),
		batches:   db.Collection(constants.BatchesCollection),
	}
}

func (l *MongoDecisionLog) ListDecisions(ctx context.Context, q DecisionQuery) ([]DecisionRecord, error) {
	filter := bson.M{}
	if q.EventID != "" {
		filter["event_id"] = q.EventID
	}
	if q.TeamID != "" {
		filter["team_id"] = q.TeamID
	}
	if q.ChannelID != "" {
		filter["channel_id"] = q.ChannelID
	}
	if q.Action != "" {
		filter["action"] = q.Action
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "decided_at", Value: -1}}).
		SetLimit(int64(limitOrDefault(q.Limit)))

	cursor, err := l.decisions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]DecisionRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode decisions: %w", err)
	}
	return records, nil
}

func (l *MongoDecisionLog) ListFlushes(ctx context.Context, channelID string, limit int) ([]FlushRecord, error) {
	filter := bson.M{}
	if channelID != "" {
		filter["channel_id"] = channelID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "flushed_at", Value: -1}}).
		SetLimit(int64(limitOrDefault(limit)))

	cursor, err := l.batches.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]FlushRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode batches: %w", err)
	}
	return records, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return limit
}
