//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costtrace/internal/cost"
	"costtrace/internal/sessioncost"
)

func TestSessionTotals_SharedThroughRedis(t *testing.T) {
	a := SetupTestServer(t, TestServerConfig{UseRedis: true})
	b := SetupTestServer(t, TestServerConfig{UseRedis: true})
	sessionID := "it-" + uuid.NewString()

	for _, f := range []*TestServerFixture{a, b} {
		resp := sendChat(t, f.ServerURL, sessionID, testModel)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		closeBody(resp)
	}

	// Either instance sees both calls.
	status, body := getSessionCost(t, a.ServerURL, sessionID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), body.Totals.Calls)
	assert.Equal(t, int64(2), body.Totals.Priced)
	assert.InDelta(t, 0.0024, body.Totals.Total, 1e-9)
	assert.Nil(t, body.Ledger)
}

func TestRedisTotals_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	totals, err := sessioncost.NewRedis(ctx, sessioncost.RedisConfig{URL: GetRedisURL(), KeyPrefix: "it:"})
	require.NoError(t, err)
	defer func() { _ = totals.Close() }()

	sessionID := uuid.NewString()
	total := 0.001
	rec := &cost.Record{Total: &total}

	done := make(chan error, 50)
	for range 50 {
		go func() { done <- totals.Add(ctx, sessionID, rec) }()
	}
	for range 50 {
		require.NoError(t, <-done)
	}

	sum, err := totals.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), sum.Calls)
	assert.InDelta(t, 0.05, sum.Total, 1e-9)
}
