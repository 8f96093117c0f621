//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"costtrace/internal/core"
	"costtrace/internal/server"
)

const chatCompletionsPath = "/v1/chat/completions"

// sendChat posts one chat completion in the given session.
func sendChat(t *testing.T, serverURL, sessionID, model string) *http.Response {
	t.Helper()

	body, err := json.Marshal(core.ChatRequest{
		Model:    model,
		Messages: []core.Message{core.UserMessage("What is 6 * 7?")},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, serverURL+chatCompletionsPath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.HeaderSessionID, sessionID)
	req.Header.Set(server.HeaderTags, "integration")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// getSessionCost fetches the session cost summary.
func getSessionCost(t *testing.T, serverURL, sessionID string) (int, server.SessionCostResponse) {
	t.Helper()

	resp, err := http.Get(serverURL + "/v1/sessions/" + sessionID + "/cost")
	require.NoError(t, err)
	defer closeBody(resp)

	var out server.SessionCostResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

// closeBody is a helper to close response body in defer statements.
func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
