// Package tracker wraps chat calls with cost tracking. Each call is recorded
// as a generation on the session's trace, annotated with the cost the provider
// reported when one can be found in the result.
package tracker

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"costtrace/internal/core"
	"costtrace/internal/cost"
	"costtrace/internal/langfuse"
	"costtrace/internal/ledger"
	"costtrace/internal/llmresult"
	"costtrace/internal/metrics"
	"costtrace/internal/sessioncost"
	"costtrace/internal/telemetry"
)

// Shape selects the result document the cost is extracted from.
type Shape int

const (
	// ShapeDirect uses the provider's response body.
	ShapeDirect Shape = iota
	// ShapeFramework uses the framework result envelope built from it.
	ShapeFramework
)

func (s Shape) String() string {
	if s == ShapeFramework {
		return "framework"
	}
	return "direct"
}

// Outcome is the result of a tracked call.
type Outcome struct {
	Response *core.ChatResponse
	// Result is set for ShapeFramework calls.
	Result       *llmresult.Result
	Cost         *cost.Record
	Location     cost.Location
	GenerationID string
	TraceID      string
}

// Options wires the tracker's outputs. Nil fields are replaced with no-op
// implementations.
type Options struct {
	Sink    langfuse.Sink
	Ledger  ledger.Writer
	Totals  sessioncost.Totals
	Metrics *metrics.Recorder
	// TraceTTL is how long an idle session keeps its trace; a later call
	// starts a new one. Defaults to sessioncost.DefaultTTL.
	TraceTTL time.Duration
}

// Tracker records chat calls.
type Tracker struct {
	provider core.ChatProvider
	sink     langfuse.Sink
	ledger   ledger.Writer
	totals   sessioncost.Totals
	metrics  *metrics.Recorder
	now      func() time.Time
	traceTTL time.Duration

	mu        sync.Mutex
	traces    map[string]*sessionTrace
	lastSweep time.Time
}

type sessionTrace struct {
	id   string
	seen time.Time
}

// New creates a tracker around provider.
func New(provider core.ChatProvider, opts Options) *Tracker {
	t := &Tracker{
		provider: provider,
		sink:     opts.Sink,
		ledger:   opts.Ledger,
		totals:   opts.Totals,
		metrics:  opts.Metrics,
		now:      time.Now,
		traceTTL: opts.TraceTTL,
		traces:   make(map[string]*sessionTrace),
	}
	if t.traceTTL <= 0 {
		t.traceTTL = sessioncost.DefaultTTL
	}
	t.lastSweep = t.now()
	if t.sink == nil {
		t.sink = langfuse.NoopExporter{}
	}
	if t.ledger == nil {
		t.ledger = ledger.NoopLogger{}
	}
	if t.totals == nil {
		t.totals = sessioncost.NewLocal()
	}
	return t
}

// Totals returns the session totals the tracker updates.
func (t *Tracker) Totals() sessioncost.Totals {
	return t.totals
}

// Chat runs one tracked call. Telemetry failures never fail the call; a
// provider error is returned after it has been recorded.
func (t *Tracker) Chat(ctx context.Context, name string, req *core.ChatRequest, shape Shape) (*Outcome, error) {
	tc := telemetry.FromContext(ctx)
	if tc == nil {
		tc = telemetry.NewContext(telemetry.NewSessionID("session", t.now()), nil, nil)
	}
	traceID := t.traceFor(tc)
	start := t.now().UTC()

	resp, err := t.provider.ChatCompletion(ctx, req)
	end := t.now().UTC()

	gen := &langfuse.Generation{
		ID:          uuid.NewString(),
		TraceID:     traceID,
		Name:        name,
		Model:       req.Model,
		Input:       req.Input(),
		Environment: tc.Environment(),
		StartTime:   start,
		EndTime:     end,
		Level:       langfuse.LevelDefault,
	}
	entry := &ledger.Entry{
		ID:        gen.ID,
		TraceID:   traceID,
		SessionID: tc.SessionID,
		Name:      name,
		Model:     req.Model,
		Provider:  t.provider.Name(),
		Timestamp: end,
	}

	if err != nil {
		t.recordError(ctx, tc, gen, entry, err)
		return nil, err
	}

	out := &Outcome{Response: resp, GenerationID: gen.ID, TraceID: traceID}
	raw := resp.Raw
	if shape == ShapeFramework {
		out.Result = llmresult.FromChatResponse(resp)
		if b, mErr := out.Result.JSON(); mErr == nil {
			raw = b
		} else {
			slog.Warn("failed to encode framework result", "error", mErr, "generation", name)
		}
	}
	out.Cost, out.Location = cost.Probe(raw)

	if resp.Model != "" {
		gen.Model = resp.Model
		entry.Model = resp.Model
	}
	gen.Output = resp.Content()
	gen.Usage = &langfuse.Usage{
		Input:  resp.Usage.PromptTokens,
		Output: resp.Usage.CompletionTokens,
		Total:  resp.Usage.TotalTokens,
	}

	extras := map[string]any{"shape": shape.String()}
	maps.Copy(extras, cost.ExtractMetadata(raw))
	if out.Cost != nil {
		gen.CostDetails = out.Cost.Details()
		extras["cost_location"] = string(out.Location)
	} else {
		slog.Debug("no cost in result", "generation", name, "model", gen.Model, "shape", shape.String())
	}
	gen.Metadata = tc.MetadataWith(extras)

	entry.ProviderID = resp.ID
	entry.InputTokens = resp.Usage.PromptTokens
	entry.OutputTokens = resp.Usage.CompletionTokens
	entry.TotalTokens = resp.Usage.TotalTokens
	entry.SetCost(out.Cost, out.Location)
	entry.Metadata = extras

	t.sink.Enqueue(langfuse.NewGenerationEvent(gen))
	t.ledger.Write(entry)
	if err := t.totals.Add(ctx, tc.SessionID, out.Cost); err != nil {
		slog.Warn("failed to update session totals", "error", err, "session_id", tc.SessionID)
	}
	t.metrics.ObserveGeneration(t.provider.Name(), gen.Model, out.Cost, out.Location, nil)

	return out, nil
}

// recordError attaches a zeroed cost so failed generations have the same
// shape as successful ones.
func (t *Tracker) recordError(ctx context.Context, tc *telemetry.Context, gen *langfuse.Generation, entry *ledger.Entry, err error) {
	zero := cost.Zero()

	gen.Level = langfuse.LevelError
	gen.StatusMessage = err.Error()
	gen.CostDetails = zero.Details()
	gen.Metadata = tc.MetadataWith(map[string]any{"error": err.Error()})

	entry.Error = true
	entry.SetCost(zero, cost.LocationNone)
	entry.Metadata = map[string]any{"error": err.Error()}

	slog.Error("chat call failed", "error", err, "generation", gen.Name, "session_id", tc.SessionID)

	t.sink.Enqueue(langfuse.NewGenerationEvent(gen))
	t.ledger.Write(entry)
	if addErr := t.totals.Add(ctx, tc.SessionID, nil); addErr != nil {
		slog.Warn("failed to update session totals", "error", addErr, "session_id", tc.SessionID)
	}
	t.metrics.ObserveGeneration(t.provider.Name(), gen.Model, zero, cost.LocationNone, err)
}

// traceFor returns the session's trace id, creating the trace on first use
// or after the session has been idle for longer than the trace TTL.
func (t *Tracker) traceFor(tc *telemetry.Context) string {
	now := t.now()

	t.mu.Lock()
	t.sweepTracesLocked(now)
	tr, ok := t.traces[tc.SessionID]
	if ok && now.Sub(tr.seen) > t.traceTTL {
		ok = false
	}
	if !ok {
		tr = &sessionTrace{id: uuid.NewString()}
		t.traces[tc.SessionID] = tr
	}
	tr.seen = now
	id := tr.id
	t.mu.Unlock()

	if !ok {
		t.sink.Enqueue(langfuse.NewTraceEvent(&langfuse.Trace{
			ID:          id,
			Name:        tc.SessionID,
			SessionID:   tc.SessionID,
			Tags:        tc.Tags,
			Metadata:    tc.MetadataWith(nil),
			Environment: tc.Environment(),
			Timestamp:   now.UTC(),
		}))
	}
	return id
}

// sweepTracesLocked forgets idle sessions at most once per trace TTL.
func (t *Tracker) sweepTracesLocked(now time.Time) {
	if now.Sub(t.lastSweep) < t.traceTTL {
		return
	}
	t.lastSweep = now
	for sessionID, tr := range t.traces {
		if now.Sub(tr.seen) > t.traceTTL {
			delete(t.traces, sessionID)
		}
	}
}
