// Package main provides the CLI entry point for the orchestrator: a
// standalone execution engine (§6) that drives a planner through a
// tool-calling loop with budgeted iterations, admission control, and
// tool-risk approval gating.
//
// # Basic Usage
//
// Run one input through the engine and print the result:
//
//	orchestrate run --config orchestrate.yaml "summarize this repo"
//
// Start an interactive REPL against a single session:
//
//	orchestrate chat --config orchestrate.yaml
//
// Run the maintenance scheduler and a /metrics endpoint until interrupted:
//
//	orchestrate serve --config orchestrate.yaml
//
// # Environment Variables
//
//   - ORCHESTRATE_CONFIG: path to the YAML configuration file (default: orchestrate.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for the planner backend
//   - ORCHESTRATE_OTEL_ENDPOINT: OTLP gRPC collector endpoint; tracing is a
//     no-op until this is set
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Run the tool-calling orchestrator engine",
	}
	cmd.AddCommand(buildRunCmd(), buildChatCmd(), buildSweepCmd(), buildServeCmd())
	return cmd
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("ORCHESTRATE_CONFIG"); env != "" {
		return env
	}
	return "orchestrate.yaml"
}
