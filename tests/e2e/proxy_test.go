//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costtrace/internal/core"
	"costtrace/internal/langfuse"
	"costtrace/internal/server"
)

const testModel = "mistralai/ministral-3b"

func sendChat(t *testing.T, sessionID, model string, authorized bool) *http.Response {
	t.Helper()
	body, err := json.Marshal(core.ChatRequest{
		Model:    model,
		Messages: []core.Message{core.UserMessage("What is 6 * 7?")},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, gatewayURL+"/v1/chat/completions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.HeaderSessionID, sessionID)
	req.Header.Set(server.HeaderTags, "e2e,proxy")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+masterKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func TestProxy_ForwardsCostToLangfuse(t *testing.T) {
	sessionID := "e2e-" + uuid.NewString()

	resp := sendChat(t, sessionID, testModel, true)
	defer closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	traceID := resp.Header.Get(server.HeaderTraceID)
	require.NotEmpty(t, traceID)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"cost":0.0012`)

	// Usage accounting was requested upstream.
	assert.Contains(t, string(upstream.LastBody()), `"usage":{"include":true}`)

	var gens []langfuse.Generation
	require.Eventually(t, func() bool {
		gens = ingestion.Generations(traceID)
		return len(gens) == 1
	}, 5*time.Second, 50*time.Millisecond)

	g := gens[0]
	assert.Equal(t, langfuse.LevelDefault, g.Level)
	assert.Equal(t, map[string]float64{"input": 0.0005, "output": 0.0007, "total": 0.0012}, g.CostDetails)
	assert.Equal(t, "e2e", g.Environment)
	assert.Equal(t, "result", g.Metadata["cost_location"])

	traces := ingestion.Traces(sessionID)
	require.Len(t, traces, 1)
	assert.Equal(t, []string{"e2e", "proxy"}, traces[0].Tags)
}

func TestProxy_UnpricedGenerationHasNoCostDetails(t *testing.T) {
	sessionID := "e2e-" + uuid.NewString()

	resp := sendChat(t, sessionID, UnpricedModel, true)
	closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(server.HeaderCostTotal))

	traceID := resp.Header.Get(server.HeaderTraceID)
	var gens []langfuse.Generation
	require.Eventually(t, func() bool {
		gens = ingestion.Generations(traceID)
		return len(gens) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Nil(t, gens[0].CostDetails)
}

func TestProxy_UpstreamErrorRecordsZeroCost(t *testing.T) {
	sessionID := "e2e-" + uuid.NewString()

	// A priced call first so the trace id is known.
	ok := sendChat(t, sessionID, testModel, true)
	closeBody(ok)
	traceID := ok.Header.Get(server.HeaderTraceID)

	resp := sendChat(t, sessionID, FailModel, true)
	closeBody(resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var gens []langfuse.Generation
	require.Eventually(t, func() bool {
		gens = ingestion.Generations(traceID)
		return len(gens) == 2
	}, 5*time.Second, 50*time.Millisecond)

	var failed *langfuse.Generation
	for i := range gens {
		if gens[i].Level == langfuse.LevelError {
			failed = &gens[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, map[string]float64{"input": 0, "output": 0, "total": 0}, failed.CostDetails)
	assert.NotEmpty(t, failed.StatusMessage)
}

func TestProxy_SessionCostFromLedger(t *testing.T) {
	sessionID := "e2e-" + uuid.NewString()
	for range 3 {
		resp := sendChat(t, sessionID, testModel, true)
		closeBody(resp)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var out server.SessionCostResponse
	require.Eventually(t, func() bool {
		req, _ := http.NewRequest(http.MethodGet, gatewayURL+"/v1/sessions/"+sessionID+"/cost", nil)
		req.Header.Set("Authorization", "Bearer "+masterKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer closeBody(resp)
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&out) != nil {
			return false
		}
		return out.Ledger != nil && out.Ledger.Generations == 3
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, int64(3), out.Totals.Priced)
	assert.InDelta(t, 0.0036, out.Totals.Total, 1e-9)
	assert.InDelta(t, 0.0036, out.Ledger.TotalCost, 1e-9)
	assert.Equal(t, int64(54), out.Ledger.TotalTokens)
}

func TestProxy_RequiresMasterKey(t *testing.T) {
	resp := sendChat(t, "e2e-unauth", testModel, false)
	defer closeBody(resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	health, err := http.Get(gatewayURL + "/health")
	require.NoError(t, err)
	defer closeBody(health)
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestProxy_MetricsExposed(t *testing.T) {
	resp := sendChat(t, "e2e-"+uuid.NewString(), testModel, true)
	closeBody(resp)

	m, err := http.Get(gatewayURL + "/metrics")
	require.NoError(t, err)
	defer closeBody(m)
	require.Equal(t, http.StatusOK, m.StatusCode)

	body, err := io.ReadAll(m.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "costtrace_generations_total")
	assert.Contains(t, string(body), "costtrace_upstream_requests_total")
}
