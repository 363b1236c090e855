// Package main provides the CLI entry point for the Hopper assistant core.
//
// Hopper turns natural-language requests into validated, risk-gated tool
// execution plans. The planning model only ever proposes structured plans;
// every plan is validated against the tool registry and high-risk steps
// wait for explicit user confirmation before anything runs.
//
// # Basic Usage
//
// Start the server:
//
//	hopper serve --config hopper.yaml
//
// Dispatch a single request from the terminal:
//
//	hopper plan "archive everything in ~/inbox older than a month"
//
// # Environment Variables
//
//   - HOPPER_CONFIG: Path to configuration file (default: hopper.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "hopper",
		Short:         "Hopper assistant core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(buildServeCmd(), buildPlanCmd(), buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hopper %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath applies the flag, then the environment, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("HOPPER_CONFIG"); env != "" {
		return env
	}
	return "hopper.yaml"
}
