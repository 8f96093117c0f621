package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite binds at most 999 parameters per statement.
const (
	maxSQLiteParams  = 999
	columnsPerEntry  = 17
	maxEntriesPerRun = maxSQLiteParams / columnsPerEntry
)

// sqliteTimeLayout has fixed width so text comparison orders timestamps.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store and Reader for SQLite.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates the generations table if needed and starts the
// retention cleanup when retentionDays is positive.
func NewSQLiteStore(ctx context.Context, db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+TableName+` (
			id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			input_cost REAL,
			output_cost REAL,
			total_cost REAL,
			cost_location TEXT NOT NULL DEFAULT '',
			is_error INTEGER NOT NULL DEFAULT 0,
			metadata JSON
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", TableName, err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_generations_session_id ON " + TableName + "(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_generations_timestamp ON " + TableName + "(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_generations_model ON " + TableName + "(model)",
	} {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	s := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go runCleanupLoop(s.stopCleanup, s.cleanup)
	}
	return s, nil
}

// WriteBatch inserts entries in chunks that fit SQLite's parameter limit.
// Entries whose id already exists are skipped.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	for i := 0; i < len(entries); i += maxEntriesPerRun {
		chunk := entries[i:min(i+maxEntriesPerRun, len(entries))]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerEntry)
		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

			var md any
			if b := marshalMetadata(e.Metadata, e.ID); b != nil {
				md = string(b)
			}
			values = append(values,
				e.ID, e.TraceID, e.SessionID, e.Name, e.Model, e.Provider, e.ProviderID,
				e.Timestamp.UTC().Format(sqliteTimeLayout),
				e.InputTokens, e.OutputTokens, e.TotalTokens,
				e.InputCost, e.OutputCost, e.TotalCost, e.CostLocation,
				e.Error, md,
			)
		}

		query := `INSERT OR IGNORE INTO ` + TableName + ` (id, trace_id, session_id, name, model, provider,
			provider_id, timestamp, input_tokens, output_tokens, total_tokens,
			input_cost, output_cost, total_cost, cost_location, is_error, metadata) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert ledger batch %d: %w", i/maxEntriesPerRun, err)
		}
	}
	return nil
}

// SessionSummary implements Reader.
func (s *SQLiteStore) SessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	sum := &SessionSummary{SessionID: sessionID}
	var first, last sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_error), 0), COUNT(total_cost),
			COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(input_cost), 0.0), COALESCE(SUM(output_cost), 0.0), COALESCE(SUM(total_cost), 0.0),
			MIN(timestamp), MAX(timestamp)
		FROM `+TableName+` WHERE session_id = ?`, sessionID,
	).Scan(
		&sum.Generations, &sum.Errors, &sum.Priced,
		&sum.InputTokens, &sum.OutputTokens, &sum.TotalTokens,
		&sum.InputCost, &sum.OutputCost, &sum.TotalCost,
		&first, &last,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session summary: %w", err)
	}

	if first.Valid {
		sum.FirstSeen, _ = time.Parse(sqliteTimeLayout, first.String)
	}
	if last.Valid {
		sum.LastSeen, _ = time.Parse(sqliteTimeLayout, last.String)
	}
	return sum, nil
}

// Flush is a no-op; writes are synchronous.
func (s *SQLiteStore) Flush(context.Context) error { return nil }

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *SQLiteStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(sqliteTimeLayout)

	res, err := s.db.Exec("DELETE FROM "+TableName+" WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to clean up expired ledger entries", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.Info("cleaned up expired ledger entries", "deleted", n)
	}
}

// marshalMetadata returns nil for empty metadata and "{}" when it cannot be
// encoded.
func marshalMetadata(md map[string]any, id string) []byte {
	if len(md) == 0 {
		return nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		slog.Warn("failed to marshal ledger metadata", "error", err, "id", id)
		return []byte("{}")
	}
	return b
}
