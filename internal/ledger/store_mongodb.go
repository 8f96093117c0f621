package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrPartialWrite indicates a batch that was only partly inserted.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports how many entries of a batch failed.
type PartialWriteError struct {
	TotalEntries int
	FailedCount  int
	Cause        mongo.BulkWriteException
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial ledger insert: %d of %d entries failed: %v",
		e.FailedCount, e.TotalEntries, e.Cause.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

var partialWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "costtrace_ledger_partial_write_failures_total",
	Help: "Partial write failures when inserting ledger entries into MongoDB",
})

// MongoDBStore implements Store and Reader for MongoDB. Expired entries are
// removed by a TTL index rather than a cleanup loop.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates the collection indexes.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	collection := database.Collection(TableName)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "model", Value: 1}}},
	}
	// A field may carry only one index when one of them is TTL.
	ts := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}
	if retentionDays > 0 {
		ts.Options = options.Index().SetExpireAfterSeconds(int32(retentionDays * 24 * 60 * 60))
	}
	indexes = append(indexes, ts)

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create some MongoDB ledger indexes", "error", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// WriteBatch inserts entries unordered so one failure does not stop the rest.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) {
		failed := len(bulkErr.WriteErrors)
		slog.Warn("partial ledger insert failure",
			"total", len(entries),
			"failed", failed,
			"succeeded", len(entries)-failed,
		)
		partialWriteFailures.Inc()
		return &PartialWriteError{TotalEntries: len(entries), FailedCount: failed, Cause: bulkErr}
	}
	return fmt.Errorf("failed to insert ledger entries: %w", err)
}

type mongoSummary struct {
	Generations  int       `bson:"generations"`
	Errors       int       `bson:"errors"`
	Priced       int       `bson:"priced"`
	InputTokens  int64     `bson:"input_tokens"`
	OutputTokens int64     `bson:"output_tokens"`
	TotalTokens  int64     `bson:"total_tokens"`
	InputCost    float64   `bson:"input_cost"`
	OutputCost   float64   `bson:"output_cost"`
	TotalCost    float64   `bson:"total_cost"`
	FirstSeen    time.Time `bson:"first_seen"`
	LastSeen     time.Time `bson:"last_seen"`
}

// SessionSummary implements Reader.
func (s *MongoDBStore) SessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "session_id", Value: sessionID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "generations", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "errors", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{"$error", 1, 0}}}}}},
			{Key: "priced", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$ne", Value: bson.A{"$total_cost", nil}}}, 1, 0,
			}}}}}},
			{Key: "input_tokens", Value: bson.D{{Key: "$sum", Value: "$input_tokens"}}},
			{Key: "output_tokens", Value: bson.D{{Key: "$sum", Value: "$output_tokens"}}},
			{Key: "total_tokens", Value: bson.D{{Key: "$sum", Value: "$total_tokens"}}},
			{Key: "input_cost", Value: bson.D{{Key: "$sum", Value: "$input_cost"}}},
			{Key: "output_cost", Value: bson.D{{Key: "$sum", Value: "$output_cost"}}},
			{Key: "total_cost", Value: bson.D{{Key: "$sum", Value: "$total_cost"}}},
			{Key: "first_seen", Value: bson.D{{Key: "$min", Value: "$timestamp"}}},
			{Key: "last_seen", Value: bson.D{{Key: "$max", Value: "$timestamp"}}},
		}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate session summary: %w", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	sum := &SessionSummary{SessionID: sessionID}
	if !cursor.Next(ctx) {
		return sum, cursor.Err()
	}
	var row mongoSummary
	if err := cursor.Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode session summary: %w", err)
	}

	sum.Generations = row.Generations
	sum.Errors = row.Errors
	sum.Priced = row.Priced
	sum.InputTokens = row.InputTokens
	sum.OutputTokens = row.OutputTokens
	sum.TotalTokens = row.TotalTokens
	sum.InputCost = row.InputCost
	sum.OutputCost = row.OutputCost
	sum.TotalCost = row.TotalCost
	sum.FirstSeen = row.FirstSeen.UTC()
	sum.LastSeen = row.LastSeen.UTC()
	return sum, nil
}

// Flush is a no-op; writes are synchronous.
func (s *MongoDBStore) Flush(context.Context) error { return nil }

// Close is a no-op; the client is owned by the storage layer.
func (s *MongoDBStore) Close() error { return nil }
