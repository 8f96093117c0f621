//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"costtrace/config"
	"costtrace/internal/cli"
	"costtrace/internal/server"
)

// TestServerConfig configures how the test server is set up.
type TestServerConfig struct {
	// DBType is "postgresql" or "mongodb"; empty disables the ledger.
	DBType string

	// UseRedis keeps session totals in the shared Redis container.
	UseRedis bool

	// MasterKey sets the authentication master key (empty = no auth)
	MasterKey string
}

// TestServerFixture holds test server resources.
type TestServerFixture struct {
	// ServerURL is the base URL of the proxy
	ServerURL string

	// Runtime owns the tracker, exporters and stores
	Runtime *cli.Runtime

	// Upstream is the fake OpenRouter endpoint
	Upstream *MockOpenRouter

	PgPool  *pgxpool.Pool
	MongoDb *mongo.Database

	server *httptest.Server
	closed bool
}

// SetupTestServer starts the proxy against a fake OpenRouter.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	upstream := NewMockOpenRouter()
	appCfg := buildAppConfig(t, cfg, upstream.URL())

	rt, err := cli.NewRuntime(GetTestContext(), appCfg)
	require.NoError(t, err, "failed to create runtime")

	srv := server.New(rt.Tracker, server.Config{
		MasterKey:   cfg.MasterKey,
		Ledger:      rt.Ledger.Reader,
		Environment: "integration",
		HealthCheck: rt.HealthCheck,
	})

	f := &TestServerFixture{
		Runtime:  rt,
		Upstream: upstream,
		server:   httptest.NewServer(srv),
	}
	f.ServerURL = f.server.URL

	switch cfg.DBType {
	case "postgresql":
		f.PgPool = GetPostgreSQLPool()
	case "mongodb":
		f.MongoDb = GetMongoDatabase()
	}

	t.Cleanup(func() { f.Shutdown(t) })
	return f
}

// FlushAndClose flushes pending ledger entries and closes the runtime.
// Call it before making any DB assertions.
func (f *TestServerFixture) FlushAndClose(t *testing.T) {
	t.Helper()
	if f.closed {
		return
	}
	f.closed = true
	require.NoError(t, f.Runtime.Close(), "failed to close runtime")
}

// Shutdown stops the servers and releases the runtime.
func (f *TestServerFixture) Shutdown(t *testing.T) {
	t.Helper()
	f.server.Close()
	f.Upstream.Close()
	if !f.closed {
		f.closed = true
		_ = f.Runtime.Close()
	}
}

func buildAppConfig(t *testing.T, cfg TestServerConfig, upstreamURL string) *config.Config {
	t.Helper()

	appCfg := config.Defaults()
	appCfg.OpenRouter.APIKey = "sk-or-test"
	appCfg.OpenRouter.BaseURL = upstreamURL
	appCfg.HTTP.Timeout = 10 * time.Second
	appCfg.Ledger.Enabled = cfg.DBType != ""
	appCfg.Ledger.FlushInterval = 100 * time.Millisecond

	switch cfg.DBType {
	case "":
	case "postgresql":
		appCfg.Storage.Type = "postgresql"
		appCfg.Storage.PostgreSQL.URL = GetPostgreSQLURL()
		appCfg.Storage.PostgreSQL.MaxConns = 5
	case "mongodb":
		appCfg.Storage.Type = "mongodb"
		appCfg.Storage.MongoDB.URL = GetMongoURL()
		appCfg.Storage.MongoDB.Database = mongoDatabaseName
	default:
		t.Fatalf("unsupported DB type: %s", cfg.DBType)
	}

	if cfg.UseRedis {
		appCfg.Redis.URL = GetRedisURL()
	}

	require.NoError(t, appCfg.Validate())
	return appCfg
}

// FailModel makes the fake upstream answer 429.
const FailModel = "test/rate-limited"

// pricedUsage is the usage block returned by the fake upstream.
const pricedUsage = `{"prompt_tokens":10,"completion_tokens":8,"total_tokens":18,"cost":0.0012,"is_byok":false,` +
	`"cost_details":{"upstream_inference_prompt_cost":0.0005,"upstream_inference_completions_cost":0.0007}}`

// MockOpenRouter answers chat completions with a priced response.
type MockOpenRouter struct {
	server *httptest.Server
	calls  atomic.Int32
}

// NewMockOpenRouter starts the fake upstream.
func NewMockOpenRouter() *MockOpenRouter {
	m := &MockOpenRouter{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		m.calls.Add(1)

		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		if req.Model == FailModel {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"rate limited"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"gen-test","object":"chat.completion","model":"` + req.Model + `",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"42"}}],` +
			`"usage":` + pricedUsage + `}`))
	}))
	return m
}

// URL returns the upstream base URL.
func (m *MockOpenRouter) URL() string { return m.server.URL }

// Calls returns how many completions were served.
func (m *MockOpenRouter) Calls() int { return int(m.calls.Load()) }

// Close stops the upstream.
func (m *MockOpenRouter) Close() { m.server.Close() }
