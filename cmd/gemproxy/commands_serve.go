package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configDir string
		addr      string
		debug     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gemproxy HTTP server",
		Long: `Start the gemproxy HTTP server.

The server will:
1. Load scalar settings from the environment (falling back to <config-dir>/.env)
2. Open the credential store (<config-dir>/api_keys.json)
3. Load the MCP server table (<config-dir>/mcp.json) and connect enabled servers
4. Load prompt profiles and system-prompt presets (<config-dir>/prompt.json,
   system_prompts.json, agent_prompts.json)
5. Open the token-usage ledger (<config-dir>/usage.db)
6. Serve the OpenAI-compatible HTTP surface until SIGINT/SIGTERM

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with the default config directory
  gemproxy serve

  # Start against a specific config directory and bind address
  gemproxy serve --config-dir /etc/gemproxy --addr :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configDir, addr, debug)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config-dir", "c", defaultConfigDir(),
		"Directory holding persisted state (api_keys.json, mcp.json, prompt.json, usage.db, .env)")
	cmd.Flags().StringVar(&addr, "addr", "",
		"Address to listen on (overrides SERVER_HOST/SERVER_PORT)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func defaultConfigDir() string {
	if dir := os.Getenv("GEMPROXY_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".gemproxy")
}
