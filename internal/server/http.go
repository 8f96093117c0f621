package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"costtrace/internal/ledger"
	"costtrace/internal/metrics"
	"costtrace/internal/tracker"
)

// DefaultBodySizeLimit caps request bodies.
const DefaultBodySizeLimit = "10M"

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server options.
type Config struct {
	// MasterKey enables bearer authentication when non-empty.
	MasterKey string
	// Metrics is served at MetricsEndpoint when non-nil.
	Metrics         *metrics.Recorder
	MetricsEndpoint string
	// Ledger answers session summaries; nil when the ledger is disabled.
	Ledger ledger.Reader
	// Environment is recorded on proxy traces.
	Environment string
	// HealthCheck, when set, is consulted by /health.
	HealthCheck func(ctx context.Context) error
}

// New creates the HTTP server.
func New(tr *tracker.Tracker, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(tr, cfg.Ledger)
	handler.environment = cfg.Environment
	handler.healthCheck = cfg.HealthCheck

	authSkipPaths := []string{"/health"}
	metricsPath := "/metrics"
	if cfg.Metrics != nil {
		if cfg.MetricsEndpoint != "" {
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				slog.Error("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(DefaultBodySizeLimit))
	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	e.GET("/health", handler.Health)
	if cfg.Metrics != nil {
		e.GET(metricsPath, echo.WrapHandler(cfg.Metrics.Handler()))
	}

	e.POST("/v1/chat/completions", handler.ChatCompletion)
	e.GET("/v1/sessions/:id/cost", handler.SessionCost)

	return &Server{echo: e, handler: handler}
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
