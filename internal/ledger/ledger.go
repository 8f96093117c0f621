// Package ledger keeps a local record of every tracked generation and its
// reported cost. The ledger mirrors what is sent to the observability backend
// so session spend can be queried without it; the backend stays the source of
// truth.
package ledger

import (
	"context"
	"time"

	"costtrace/internal/cost"
)

// TableName is the SQL table and MongoDB collection holding entries.
const TableName = "generations"

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes entries; called by the Logger when it flushes.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Flush forces pending writes to complete.
	Flush(ctx context.Context) error

	// Close stops background work. The database handle is owned by the caller.
	Close() error
}

// Reader answers queries over recorded entries.
type Reader interface {
	// SessionSummary aggregates all entries of a session. An unknown session
	// yields a summary with zero generations.
	SessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error)
}

// Entry is one recorded generation.
type Entry struct {
	ID         string    `json:"id" bson:"_id"`
	TraceID    string    `json:"trace_id" bson:"trace_id"`
	SessionID  string    `json:"session_id" bson:"session_id"`
	Name       string    `json:"name" bson:"name"`
	Model      string    `json:"model" bson:"model"`
	Provider   string    `json:"provider" bson:"provider"`
	ProviderID string    `json:"provider_id" bson:"provider_id"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`

	InputTokens  int `json:"input_tokens" bson:"input_tokens"`
	OutputTokens int `json:"output_tokens" bson:"output_tokens"`
	TotalTokens  int `json:"total_tokens" bson:"total_tokens"`

	// Costs are nil when the provider did not report them.
	InputCost    *float64 `json:"input_cost" bson:"input_cost"`
	OutputCost   *float64 `json:"output_cost" bson:"output_cost"`
	TotalCost    *float64 `json:"total_cost" bson:"total_cost"`
	CostLocation string   `json:"cost_location" bson:"cost_location"`

	Error    bool           `json:"error" bson:"error"`
	Metadata map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// SetCost copies a cost record onto the entry.
func (e *Entry) SetCost(rec *cost.Record, loc cost.Location) {
	e.CostLocation = string(loc)
	if rec == nil {
		e.InputCost, e.OutputCost, e.TotalCost = nil, nil, nil
		return
	}
	e.InputCost = rec.Input
	e.OutputCost = rec.Output
	e.TotalCost = rec.Total
}

// SessionSummary aggregates a session's entries.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Generations  int       `json:"generations"`
	Errors       int       `json:"errors"`
	Priced       int       `json:"priced"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	InputCost    float64   `json:"input_cost"`
	OutputCost   float64   `json:"output_cost"`
	TotalCost    float64   `json:"total_cost"`
	FirstSeen    time.Time `json:"first_seen,omitzero"`
	LastSeen     time.Time `json:"last_seen,omitzero"`
}

// Config controls the ledger logger.
type Config struct {
	Enabled bool

	// BufferSize is the number of entries queued before writes are dropped.
	BufferSize int

	// FlushInterval is how often buffered entries are written.
	FlushInterval time.Duration

	// RetentionDays is how long entries are kept (0 = forever).
	RetentionDays int
}

// DefaultConfig returns the ledger defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
