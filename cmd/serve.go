package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tunnelctl/internal/app"
)

// serveCmd starts the host daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tunnelctl daemon",
	Long: `Starts the tunnelctl daemon. The daemon owns every tunnel opened
through it and exposes the tunnel_open, tunnel_close and tunnel_list
tools over MCP (SSE transport) on server.host:server.port.

Stopping the daemon (Ctrl+C or SIGTERM) closes all of its tunnels.

Configuration:
  tunnelctl loads configuration from .tunnelctl/config.yaml in the current
  directory and ~/.config/tunnelctl/config.yaml, or from --config.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication(app.NewConfig(configPath, logLevel, logFormat))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Serve(ctx, rootCmd.Version)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
