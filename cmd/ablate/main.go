// Package main provides the CLI entry point for ablate, a leave-one-out
// source attribution tool for grounded question answering.
//
// # Basic Usage
//
// Attribute answer quality to each source:
//
//	ablate run --question "Who designed the Eiffel Tower?" \
//	    --url https://en.wikipedia.org/wiki/Eiffel_Tower \
//	    --url https://www.toureiffel.paris/en --output report.json
//
// Inspect the source cache:
//
//	ablate cache list
//	ablate cache show https://www.toureiffel.paris/en
//
// # Environment Variables
//
//   - ABLATE_CONFIG: Path to configuration file (optional)
//   - EXA_API_KEY: Exa API key for content resolution
//   - OPENAI_API_KEY: OpenAI API key for generation and judging
//   - ANTHROPIC_API_KEY: Anthropic API key for generation and judging
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	// JSON logs until the configuration says otherwise.
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

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ablate",
		Short: "Leave-one-out source attribution for grounded answers",
		Long: `ablate answers a question from a set of web sources, then answers it again
with each source left out, and reports how much answer quality each source
was responsible for.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file (or set ABLATE_CONFIG)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildCacheCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers the flag, then ABLATE_CONFIG. Empty means defaults.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return strings.TrimSpace(os.Getenv("ABLATE_CONFIG"))
}
