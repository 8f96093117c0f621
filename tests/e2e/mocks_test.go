//go:build e2e

package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"costtrace/internal/langfuse"
)

// FailModel makes the fake OpenRouter answer 429.
const FailModel = "test/rate-limited"

// UnpricedModel makes the fake OpenRouter omit cost from usage.
const UnpricedModel = "test/unpriced"

// MockOpenRouter simulates the OpenRouter chat completions endpoint.
type MockOpenRouter struct {
	server *httptest.Server
	mu     sync.Mutex
	bodies [][]byte
}

// NewMockOpenRouter starts the fake upstream.
func NewMockOpenRouter() *MockOpenRouter {
	m := &MockOpenRouter{}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockOpenRouter) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	m.mu.Lock()
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()

	var req struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &req)

	w.Header().Set("Content-Type", "application/json")
	usage := `{"prompt_tokens":10,"completion_tokens":8,"total_tokens":18,"cost":0.0012,"is_byok":false,` +
		`"cost_details":{"upstream_inference_prompt_cost":0.0005,"upstream_inference_completions_cost":0.0007}}`
	switch req.Model {
	case FailModel:
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"rate limited"}}`))
		return
	case UnpricedModel:
		usage = `{"prompt_tokens":10,"completion_tokens":8,"total_tokens":18}`
	}
	_, _ = w.Write([]byte(`{"id":"gen-e2e","object":"chat.completion","model":"` + req.Model + `",` +
		`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"42"}}],` +
		`"usage":` + usage + `}`))
}

// LastBody returns the most recent request body.
func (m *MockOpenRouter) LastBody() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bodies) == 0 {
		return nil
	}
	return m.bodies[len(m.bodies)-1]
}

// URL returns the base URL.
func (m *MockOpenRouter) URL() string { return m.server.URL }

// Close stops the server.
func (m *MockOpenRouter) Close() { m.server.Close() }

// ReceivedEvent is one ingested event with its body left as JSON.
type ReceivedEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// MockLangfuse records ingestion batches.
type MockLangfuse struct {
	server *httptest.Server
	mu     sync.Mutex
	events []ReceivedEvent
}

// NewMockLangfuse starts the fake ingestion endpoint.
func NewMockLangfuse() *MockLangfuse {
	m := &MockLangfuse{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/public/ingestion" {
			http.NotFound(w, r)
			return
		}
		var batch struct {
			Batch []ReceivedEvent `json:"batch"`
		}
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.events = append(m.events, batch.Batch...)
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return m
}

// Generations returns the generation bodies received so far for a trace.
func (m *MockLangfuse) Generations(traceID string) []langfuse.Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []langfuse.Generation
	for _, ev := range m.events {
		if ev.Type != langfuse.EventGenerationCreate {
			continue
		}
		var g langfuse.Generation
		if err := json.Unmarshal(ev.Body, &g); err == nil && g.TraceID == traceID {
			out = append(out, g)
		}
	}
	return out
}

// Traces returns the trace bodies received for a session.
func (m *MockLangfuse) Traces(sessionID string) []langfuse.Trace {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []langfuse.Trace
	for _, ev := range m.events {
		if ev.Type != langfuse.EventTraceCreate {
			continue
		}
		var tr langfuse.Trace
		if err := json.Unmarshal(ev.Body, &tr); err == nil && tr.SessionID == sessionID {
			out = append(out, tr)
		}
	}
	return out
}

// URL returns the host URL.
func (m *MockLangfuse) URL() string { return m.server.URL }

// Close stops the server.
func (m *MockLangfuse) Close() { m.server.Close() }
