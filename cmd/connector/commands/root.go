package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/composr-connector/internal/app"
	"github.com/florianilch/composr-connector/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "connector",
		Usage: "Composr API session manager",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (.toml, .yaml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file merged below the process environment",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "log exporter (none|stdout|otlp-grpc|otlp-http)",
				Value: app.DefaultConfigLogExporter,
			},
			&cli.StringFlag{
				Name:  "api--base-url",
				Usage: "API base URL, {{module}} is replaced by api.module",
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			tokenCommand(),
			requestCommand(),
			serveCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run a local proxy that forwards requests with the session's credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// setup loads the configuration, installs logging and builds the application.
// The returned cleanup closes storage connections and flushes log exporters.
func setup(ctx context.Context, cmd *cli.Command) (*app.App, func(), error) {
	cfg, err := loadConfig(cmd.String("config"), cmd.String("env-file"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), cfg.LogExporter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		_ = shutdown(context.WithoutCancel(ctx))
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}

	cleanup := func() {
		if err := application.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close storage", "error", err)
		}
		_ = shutdown(context.WithoutCancel(ctx))
	}
	return application, cleanup, nil
}
