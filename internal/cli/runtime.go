package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"costtrace/config"
	"costtrace/internal/httpclient"
	"costtrace/internal/langfuse"
	"costtrace/internal/ledger"
	"costtrace/internal/metrics"
	"costtrace/internal/openrouter"
	"costtrace/internal/sessioncost"
	"costtrace/internal/tracker"
)

// Runtime is the set of long-lived components shared by demo and serve.
type Runtime struct {
	Config   *config.Config
	Provider *openrouter.Provider
	Tracker  *tracker.Tracker
	Sink     langfuse.Sink
	Ledger   *ledger.Result
	Totals   sessioncost.Totals
	Metrics  *metrics.Recorder
}

// NewRuntime wires the provider, exporters and stores described by cfg.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.New(true)
	}

	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = cfg.HTTP.Timeout
	rt.Provider = openrouter.NewWithHTTPClient(openrouter.Config{
		APIKey:       cfg.OpenRouter.APIKey,
		BaseURL:      cfg.OpenRouter.BaseURL,
		SiteURL:      cfg.OpenRouter.SiteURL,
		SiteName:     cfg.OpenRouter.SiteName,
		DefaultModel: cfg.OpenRouter.Model,
		Hooks:        rt.Metrics.Hooks(),
	}, httpclient.NewHTTPClient(&hcfg))

	rt.Sink = langfuse.NewSink(langfuse.Config{
		Host:      cfg.Langfuse.Host,
		PublicKey: cfg.Langfuse.PublicKey,
		SecretKey: cfg.Langfuse.SecretKey,
	}, langfuse.ExporterConfig{
		BufferSize:    cfg.Telemetry.BufferSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
	})
	if cfg.LangfuseEnabled() {
		slog.Info("langfuse export enabled", "host", cfg.Langfuse.Host)
	} else {
		slog.Warn("langfuse keys not set, generations will not be exported")
	}

	ledgerResult, err := ledger.New(ctx, cfg)
	if err != nil {
		_ = rt.Sink.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	rt.Ledger = ledgerResult
	if cfg.Ledger.Enabled {
		slog.Info("ledger enabled", "storage_type", cfg.Storage.Type, "retention_days", cfg.Ledger.RetentionDays)
	}

	if cfg.Redis.URL != "" {
		totals, err := sessioncost.NewRedis(ctx, sessioncost.RedisConfig{URL: cfg.Redis.URL, TTL: cfg.Redis.TTL})
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("failed to initialize session totals: %w", err)
		}
		rt.Totals = totals
	} else {
		rt.Totals = sessioncost.NewLocalWithTTL(cfg.Redis.TTL)
	}

	rt.Tracker = tracker.New(rt.Provider, tracker.Options{
		Sink:     rt.Sink,
		Ledger:   rt.Ledger.Logger,
		Totals:   rt.Totals,
		Metrics:  rt.Metrics,
		TraceTTL: cfg.Redis.TTL,
	})
	return rt, nil
}

// HealthCheck pings the ledger database when there is one.
func (r *Runtime) HealthCheck(ctx context.Context) error {
	if r.Ledger == nil || r.Ledger.Storage == nil {
		return nil
	}
	return r.Ledger.Storage.Ping(ctx)
}

// Close flushes pending events and ledger entries, then releases connections.
func (r *Runtime) Close() error {
	var errs []error
	if r.Sink != nil {
		if err := r.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("langfuse exporter: %w", err))
		}
	}
	if r.Ledger != nil {
		if err := r.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}
	if r.Totals != nil {
		if err := r.Totals.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session totals: %w", err))
		}
	}
	return errors.Join(errs...)
}
