// Package cli defines the costtrace command tree.
package cli

import (
	"context"
	"io"

	"github.com/urfave/cli/v3"

	"costtrace/config"
	"costtrace/internal/logging"
)

const (
	configFlag    = "config"
	logFormatFlag = "log-format"
	logLevelFlag  = "log-level"
)

// RootCommand returns the costtrace application.
func RootCommand() *cli.Command {
	return &cli.Command{
		Name:            "costtrace",
		Usage:           "Track and forward LLM call costs reported by OpenRouter",
		HideHelpCommand: true,
		DefaultCommand:  "demo",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  configFlag,
				Usage: "Path to a YAML config file (default: config.yaml if present)",
			},
			&cli.StringFlag{
				Name:    logFormatFlag,
				Usage:   "Log format: auto, text or json",
				Value:   logging.FormatAuto,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    logLevelFlag,
				Usage:   "Log level: debug, info, warn or error",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if _, err := logging.Setup(cmd.String(logFormatFlag), cmd.String(logLevelFlag)); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			DemoCommand(),
			ServeCommand(),
			ExtractCommand(),
			EnvCommand(),
			VersionCommand(),
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	return config.Load(cmd.String(configFlag))
}

func stdout(cmd *cli.Command) io.Writer {
	return cmd.Root().Writer
}
