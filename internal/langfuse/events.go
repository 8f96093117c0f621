// Package langfuse sends traces and generations to the Langfuse ingestion API.
package langfuse

import (
	"time"

	"github.com/google/uuid"
)

// Event types accepted by the ingestion endpoint.
const (
	EventTraceCreate      = "trace-create"
	EventGenerationCreate = "generation-create"
)

// Observation levels.
const (
	LevelDefault = "DEFAULT"
	LevelError   = "ERROR"
)

// Event is one entry of an ingestion batch.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Body      any       `json:"body"`
}

// Trace groups the generations of one session.
type Trace struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Environment string         `json:"environment,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Usage holds token counts for a generation.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Generation is a single model call.
type Generation struct {
	ID            string             `json:"id"`
	TraceID       string             `json:"traceId"`
	Name          string             `json:"name"`
	Model         string             `json:"model,omitempty"`
	Input         any                `json:"input,omitempty"`
	Output        any                `json:"output,omitempty"`
	Usage         *Usage             `json:"usageDetails,omitempty"`
	CostDetails   map[string]float64 `json:"costDetails,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	Environment   string             `json:"environment,omitempty"`
	StartTime     time.Time          `json:"startTime"`
	EndTime       time.Time          `json:"endTime"`
	Level         string             `json:"level,omitempty"`
	StatusMessage string             `json:"statusMessage,omitempty"`
}

// NewTraceEvent wraps a trace, assigning an id when it has none.
func NewTraceEvent(t *Trace) Event {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	return Event{ID: uuid.NewString(), Type: EventTraceCreate, Timestamp: now, Body: t}
}

// NewGenerationEvent wraps a generation, assigning an id when it has none.
func NewGenerationEvent(g *Generation) Event {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return Event{ID: uuid.NewString(), Type: EventGenerationCreate, Timestamp: time.Now().UTC(), Body: g}
}
