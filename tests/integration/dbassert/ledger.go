//go:build integration

// Package dbassert reads ledger rows straight from the database so tests can
// check what was persisted independently of the ledger's own reader.
package dbassert

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"costtrace/internal/ledger"
)

// QueryGenerationsPG returns a session's ledger rows from PostgreSQL, oldest first.
func QueryGenerationsPG(t *testing.T, pool *pgxpool.Pool, sessionID string) []ledger.Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, `
		SELECT id::text, trace_id, session_id, name, model, provider, provider_id, timestamp,
		       input_tokens, output_tokens, total_tokens, input_cost, output_cost, total_cost,
		       cost_location, is_error
		FROM `+ledger.TableName+`
		WHERE session_id = $1
		ORDER BY timestamp ASC
	`, sessionID)
	require.NoError(t, err, "failed to query generations")
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		require.NoError(t, rows.Scan(
			&e.ID, &e.TraceID, &e.SessionID, &e.Name, &e.Model, &e.Provider, &e.ProviderID, &e.Timestamp,
			&e.InputTokens, &e.OutputTokens, &e.TotalTokens, &e.InputCost, &e.OutputCost, &e.TotalCost,
			&e.CostLocation, &e.Error,
		), "failed to scan generation row")
		entries = append(entries, e)
	}
	require.NoError(t, rows.Err())
	return entries
}

// QueryGenerationsMongo returns a session's ledger documents from MongoDB, oldest first.
func QueryGenerationsMongo(t *testing.T, db *mongo.Database, sessionID string) []ledger.Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := db.Collection(ledger.TableName).Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	require.NoError(t, err, "failed to query generations")
	defer func() { _ = cursor.Close(ctx) }()

	var entries []ledger.Entry
	require.NoError(t, cursor.All(ctx, &entries), "failed to decode generations")
	return entries
}

// ClearGenerationsPG removes every ledger row.
func ClearGenerationsPG(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), "DELETE FROM "+ledger.TableName)
	require.NoError(t, err)
}

// ClearGenerationsMongo removes every ledger document.
func ClearGenerationsMongo(t *testing.T, db *mongo.Database) {
	t.Helper()
	_, err := db.Collection(ledger.TableName).DeleteMany(context.Background(), bson.M{})
	require.NoError(t, err)
}
