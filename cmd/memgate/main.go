// Package main is the CLI entry point for memgate, the memory-augmented
// LLM proxy gateway.
//
// Start the server:
//
//	memgate serve --config memgate.yaml
//
// Apply database migrations without serving:
//
//	memgate migrate --config memgate.yaml
//
// Configuration values may reference environment variables with ${VAR};
// a .env file next to the working directory is loaded automatically.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamhive/memgate/internal/observability"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(observability.NewLogger(observability.LogConfig{}))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "memgate",
		Short:        "memgate - memory-augmented LLM proxy gateway",
		Long: `memgate sits between OpenAI-compatible clients and upstream LLM
backends. It relays chat completions, captures every exchange into a
searchable memory, injects relevant context back into requests, and
exposes the memory to models as MCP tools.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildDiaryCmd(),
		buildConfigCmd(),
	)
	return root
}
