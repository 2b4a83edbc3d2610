// Package main is the isaac CLI entry point.
//
// Isaac is a personal command-line orchestrator: it classifies each input
// line, applies tier-based safety rules before anything touches the shell,
// dispatches meta commands to manifest-declared plugins, chains segments
// through a typed pipeline, and queues device-routed commands durably for
// background sync.
//
// # Basic Usage
//
// Start an interactive session:
//
//	isaac repl
//
// Run a single command through the safety pipeline:
//
//	isaac run "grep TODO main.go"
//
// Inspect the plugin catalog and the device queue:
//
//	isaac plugins list
//	isaac queue status
//
// # Environment Variables
//
//   - ISAAC_CONFIG: path to the configuration file (default: ~/.isaac/config.yaml)
//   - ANTHROPIC_API_KEY: API key used when ai.provider is anthropic
//   - XAI_API_KEY: API key used when ai.provider is xai
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cnc-n3r4/isaac/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "isaac",
		Short: "Isaac - personal command-line orchestrator",
		Long: `Isaac routes every input line through a safety pipeline before it runs.

Meta commands (/weather) dispatch to manifest-declared plugins, !device
commands queue durably for other machines, "isaac <query>" translates
natural language into shell, and everything else is tiered: trusted verbs
run instantly, risky ones are validated or confirmed, destructive ones are
locked down.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (or set ISAAC_CONFIG)")

	rootCmd.AddCommand(
		buildReplCmd(),
		buildRunCmd(),
		buildPluginsCmd(),
		buildQueueCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}
