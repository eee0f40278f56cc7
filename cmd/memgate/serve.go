package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamhive/memgate/internal/config"
	"github.com/dreamhive/memgate/internal/gateway"
	"github.com/dreamhive/memgate/internal/observability"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the memgate gateway",
		Long: `Start the gateway: the OpenAI-compatible proxy, the MCP tool server,
the records API, metrics, and the background workers (summary pipeline,
embedding backfill, archive sync, cron jobs).

Shutdown is graceful on SIGINT/SIGTERM.`,
		Example: `  memgate serve
  memgate serve --config /etc/memgate/memgate.yaml
  memgate serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "memgate.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	config.LoadDotEnv()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	logger.Info("starting memgate",
		"version", version, "commit", commit, "config", configPath)

	var tracer *observability.Tracer
	if cfg.Telemetry.Enabled {
		t, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    "memgate",
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.Endpoint,
		})
		tracer = t
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("trace shutdown failed", "error", err)
			}
		}()
	}

	app, err := gateway.New(gateway.Options{
		Config:  cfg,
		Version: version,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
		Tracer:  tracer,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
