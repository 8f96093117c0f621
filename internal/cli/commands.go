package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"costtrace/config"
	"costtrace/internal/cost"
	"costtrace/internal/demo"
	"costtrace/internal/server"
	"costtrace/internal/version"
)

// ShutdownTimeout bounds graceful server shutdown.
const ShutdownTimeout = 30 * time.Second

// DemoCommand runs the three tracked scenarios.
func DemoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Run the direct, chain and workflow cost-tracking scenarios",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := stdout(cmd)

			fmt.Fprintf(out, "Cost Tracking Demo - OpenRouter + Langfuse\n\n")
			printEnvironment(out, cfg)

			if cfg.OpenRouter.APIKey == "" {
				return errors.New("OPENROUTER_API_KEY is required")
			}

			rt, err := NewRuntime(ctx, cfg)
			if err != nil {
				return err
			}

			runErr := demo.NewRunner(rt.Tracker, cfg.OpenRouter.Model, cfg.Telemetry.Environment, out).Run(ctx)
			return errors.Join(runErr, rt.Close())
		},
	}
}

// ServeCommand runs the tracking proxy.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve an OpenAI-compatible proxy that records cost per generation",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.OpenRouter.APIKey == "" {
				return errors.New("OPENROUTER_API_KEY is required")
			}

			slog.Info("starting costtrace",
				"version", version.Version,
				"commit", version.Commit,
				"build_date", version.Date,
			)

			if cfg.Server.MasterKey == "" {
				slog.Warn("COSTTRACE_MASTER_KEY not set - proxy running without authentication")
			} else {
				slog.Info("authentication enabled", "mode", "master_key")
			}

			rt, err := NewRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					slog.Error("shutdown flush failed", "error", err)
				}
			}()

			srv := server.New(rt.Tracker, server.Config{
				MasterKey:       cfg.Server.MasterKey,
				Metrics:         rt.Metrics,
				MetricsEndpoint: cfg.Metrics.Endpoint,
				Ledger:          rt.Ledger.Reader,
				Environment:     cfg.Telemetry.Environment,
				HealthCheck:     rt.HealthCheck,
			})

			return serve(ctx, srv, ":"+cfg.Server.Port)
		},
	}
}

func serve(ctx context.Context, srv *server.Server, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "address", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// ExtractResult is printed by the extract command.
type ExtractResult struct {
	Found       bool               `json:"found"`
	Location    string             `json:"location,omitempty"`
	CostDetails map[string]float64 `json:"cost_details,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// ExtractCommand runs the cost normalizer over a saved response.
func ExtractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract the reported cost from a response or result JSON document",
		ArgsUsage: "[file|-]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			raw, err := readInput(cmd.Args().First(), os.Stdin)
			if err != nil {
				return err
			}
			return writeExtract(stdout(cmd), raw)
		},
	}
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return b, nil
}

func writeExtract(w io.Writer, raw []byte) error {
	rec, loc := cost.Probe(raw)
	res := ExtractResult{
		Found:    rec != nil,
		Location: string(loc),
		Metadata: cost.ExtractMetadata(raw),
	}
	if rec != nil {
		res.CostDetails = rec.Details()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// EnvCommand prints the effective configuration with secrets masked.
func EnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Show the effective configuration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			printEnvironment(stdout(cmd), cfg)
			return nil
		},
	}
}

func printEnvironment(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "=== Environment Configuration ===\n")
	fmt.Fprintf(w, "OPENROUTER_API_KEY: %s\n", setOrNot(cfg.OpenRouter.APIKey))
	fmt.Fprintf(w, "OPENROUTER_BASE_URL: %s\n", cfg.OpenRouter.BaseURL)
	fmt.Fprintf(w, "OPENROUTER_MODEL: %s\n", cfg.OpenRouter.Model)
	fmt.Fprintf(w, "LANGFUSE_PUBLIC_KEY: %s\n", setOrNot(cfg.Langfuse.PublicKey))
	fmt.Fprintf(w, "LANGFUSE_SECRET_KEY: %s\n", setOrNot(cfg.Langfuse.SecretKey))
	fmt.Fprintf(w, "LANGFUSE_HOST: %s\n", cfg.Langfuse.Host)
	if cfg.Ledger.Enabled {
		fmt.Fprintf(w, "LEDGER: %s\n", cfg.Storage.Type)
	} else {
		fmt.Fprintf(w, "LEDGER: disabled\n")
	}
	fmt.Fprintf(w, "REDIS_URL: %s\n", setOrNot(cfg.Redis.URL))
	fmt.Fprintln(w)
}

func setOrNot(v string) string {
	if v == "" {
		return "✗ Not set"
	}
	return "✓ Set"
}

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Fprintln(stdout(cmd), version.Info())
			return nil
		},
	}
}
