// Package sessioncost keeps running cost totals per session. Only reported
// costs are added; a generation without a cost record leaves the totals
// untouched apart from the call count.
package sessioncost

import (
	"context"

	"costtrace/internal/cost"
)

// Summary is the running total of one session.
type Summary struct {
	SessionID string  `json:"session_id"`
	Calls     int64   `json:"calls"`
	Priced    int64   `json:"priced"`
	Input     float64 `json:"input"`
	Output    float64 `json:"output"`
	Total     float64 `json:"total"`
}

// Totals accumulates per-session costs. Implementations must be safe for
// concurrent use.
type Totals interface {
	// Add counts one call and adds rec when it is non-nil.
	Add(ctx context.Context, sessionID string, rec *cost.Record) error

	// Get returns the session's totals; an unknown session yields zeros.
	Get(ctx context.Context, sessionID string) (Summary, error)

	Close() error
}

func apply(s *Summary, rec *cost.Record) {
	s.Calls++
	if rec == nil {
		return
	}
	s.Priced++
	if rec.Input != nil {
		s.Input += *rec.Input
	}
	if rec.Output != nil {
		s.Output += *rec.Output
	}
	s.Total += rec.TotalOrZero()
}
