// Command gemproxy runs the translating reverse proxy that exposes an
// OpenAI-compatible chat-completions API in front of an upstream
// Gemini-shaped generative-model service, injecting tool-use capability via
// local built-in tools and external MCP tool servers.
//
// Start the server:
//
//	gemproxy serve --config-dir /etc/gemproxy
//
// Configuration is read from environment variables, falling back to a
// persisted .env file and the JSON state files
// (api_keys.json, mcp.json, prompt.json, system_prompts.json,
// agent_prompts.json, usage.db), all under --config-dir.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached. This
// is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gemproxy",
		Short: "gemproxy - OpenAI-compatible proxy for a Gemini-shaped upstream",
		Long: `gemproxy translates OpenAI-compatible chat-completions requests into an
upstream Gemini-shaped generative-model API, running a tool-use loop over
local built-in tools and external MCP tool servers between request and
response.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gemproxy version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "gemproxy %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
