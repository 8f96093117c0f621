package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements Store and Reader for PostgreSQL.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates the generations table if needed and starts the
// retention cleanup when retentionDays is positive.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, errors.New("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+TableName+` (
			id UUID PRIMARY KEY,
			trace_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			input_cost DOUBLE PRECISION,
			output_cost DOUBLE PRECISION,
			total_cost DOUBLE PRECISION,
			cost_location TEXT NOT NULL DEFAULT '',
			is_error BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", TableName, err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_generations_session_id ON " + TableName + "(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_generations_timestamp ON " + TableName + "(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_generations_model ON " + TableName + "(model)",
		"CREATE INDEX IF NOT EXISTS idx_generations_metadata_gin ON " + TableName + " USING GIN (metadata)",
	} {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	s := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go runCleanupLoop(s.stopCleanup, s.cleanup)
	}
	return s, nil
}

const pgInsert = `INSERT INTO ` + TableName + ` (id, trace_id, session_id, name, model, provider,
	provider_id, timestamp, input_tokens, output_tokens, total_tokens,
	input_cost, output_cost, total_cost, cost_location, is_error, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (id) DO NOTHING`

// WriteBatch inserts all entries in one round trip inside a transaction.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(pgInsert,
			e.ID, e.TraceID, e.SessionID, e.Name, e.Model, e.Provider, e.ProviderID,
			e.Timestamp, e.InputTokens, e.OutputTokens, e.TotalTokens,
			e.InputCost, e.OutputCost, e.TotalCost, e.CostLocation, e.Error,
			marshalMetadata(e.Metadata, e.ID),
		)
	}

	results := tx.SendBatch(ctx, batch)
	var errs []error
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}
	if err := results.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to insert ledger batch of %d: %w", len(entries), errors.Join(errs...))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SessionSummary implements Reader.
func (s *PostgreSQLStore) SessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	sum := &SessionSummary{SessionID: sessionID}
	var first, last *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_error), COUNT(total_cost),
			COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(input_cost), 0), COALESCE(SUM(output_cost), 0), COALESCE(SUM(total_cost), 0),
			MIN(timestamp), MAX(timestamp)
		FROM `+TableName+` WHERE session_id = $1`, sessionID,
	).Scan(
		&sum.Generations, &sum.Errors, &sum.Priced,
		&sum.InputTokens, &sum.OutputTokens, &sum.TotalTokens,
		&sum.InputCost, &sum.OutputCost, &sum.TotalCost,
		&first, &last,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session summary: %w", err)
	}
	if first != nil {
		sum.FirstSeen = first.UTC()
	}
	if last != nil {
		sum.LastSeen = last.UTC()
	}
	return sum, nil
}

// Flush is a no-op; writes are synchronous.
func (s *PostgreSQLStore) Flush(context.Context) error { return nil }

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *PostgreSQLStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	res, err := s.pool.Exec(ctx, "DELETE FROM "+TableName+" WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to clean up expired ledger entries", "error", err)
		return
	}
	if res.RowsAffected() > 0 {
		slog.Info("cleaned up expired ledger entries", "deleted", res.RowsAffected())
	}
}
