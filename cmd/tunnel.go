package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"tunnelctl/internal/client"
	"tunnelctl/internal/server"
	"tunnelctl/internal/view"
)

var (
	tunnelOutputFormat string
	openOptions        string
	openUsername       string
	openAccessKey      string
	openVerbose        bool
)

// tunnelCmd groups the commands that talk to a running daemon.
var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Manage tunnels owned by a running daemon",
	Long: `Manage tunnels owned by a running tunnelctl daemon.

Available commands:
  open   - Open a tunnel for a build key
  close  - Close every tunnel of a build key
  list   - List tunnels grouped by build key

Note: The daemon must be running (use 'tunnelctl serve') before using these commands.`,
}

var tunnelOpenCmd = &cobra.Command{
	Use:   "open <build-key>",
	Short: "Open a tunnel for a build key",
	Long: `Opens a tunnel for the given build key and prints the environment
the build should run with. The daemon keeps the tunnel until it is closed
with 'tunnelctl tunnel close' or the daemon stops.`,
	Args: cobra.ExactArgs(1),
	RunE: runTunnelOpen,
}

var tunnelCloseCmd = &cobra.Command{
	Use:   "close <build-key>",
	Short: "Close every tunnel of a build key",
	Long: `Closes every tunnel registered under the given build key.
Closing a key without tunnels is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runTunnelClose,
}

var tunnelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tunnels grouped by build key",
	Args:  cobra.NoArgs,
	RunE:  runTunnelList,
}

func init() {
	rootCmd.AddCommand(tunnelCmd)

	tunnelCmd.AddCommand(tunnelOpenCmd)
	tunnelCmd.AddCommand(tunnelCloseCmd)
	tunnelCmd.AddCommand(tunnelListCmd)

	tunnelCmd.PersistentFlags().StringVar(&daemonEndpoint, "endpoint", "", "SSE endpoint of the daemon (default: derived from server.host and server.port)")
	tunnelCmd.PersistentFlags().StringVarP(&tunnelOutputFormat, "output", "o", outputTable, "Output format (table, json, yaml)")

	tunnelOpenCmd.Flags().StringVar(&openOptions, "options", "", "Extra tunnel options for this build")
	tunnelOpenCmd.Flags().StringVar(&openUsername, "username", "", "Override the configured username")
	tunnelOpenCmd.Flags().StringVar(&openAccessKey, "access-key", "", "Override the configured access key")
	tunnelOpenCmd.Flags().BoolVar(&openVerbose, "verbose", false, "Run the tunnel binary verbosely")
}

func runTunnelOpen(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd.Context(), func(ctx context.Context, c *client.Client) error {
		result, err := c.Open(ctx, client.OpenArgs{
			Key:       args[0],
			Options:   openOptions,
			Username:  openUsername,
			AccessKey: openAccessKey,
			Verbose:   openVerbose,
		})
		if err != nil {
			return err
		}
		if tunnelOutputFormat != outputTable {
			return writeStructured(cmd.OutOrStdout(), tunnelOutputFormat, result)
		}
		printOpenResult(cmd, result)
		return nil
	})
}

// printOpenResult prints the build environment as shell exports.
func printOpenResult(cmd *cobra.Command, result *server.OpenResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# tunnel %s for %s\n", result.Tunnel.ID, result.Key)
	for _, kv := range envLines(result.Environment) {
		fmt.Fprintf(out, "export %s\n", kv)
	}
}

func runTunnelClose(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd.Context(), func(ctx context.Context, c *client.Client) error {
		msg, err := c.CloseKey(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	})
}

func runTunnelList(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd.Context(), func(ctx context.Context, c *client.Client) error {
		entries, err := c.List(ctx)
		if err != nil {
			return err
		}
		if tunnelOutputFormat != outputTable {
			return writeStructured(cmd.OutOrStdout(), tunnelOutputFormat, entries)
		}
		fmt.Fprintln(cmd.OutOrStdout(), view.TunnelTable(entries, time.Now()))
		return nil
	})
}

// envLines returns sorted K=V pairs with shell-quoted values.
func envLines(env map[string]string) []string {
	lines := make([]string, 0, len(env))
	for k, v := range env {
		lines = append(lines, k+"="+shellquote.Join(v))
	}
	sort.Strings(lines)
	return lines
}
