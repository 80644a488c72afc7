package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tunnelctl/internal/app"
)

var (
	runKey     string
	runOptions string
)

// runCmd wraps a single build command in a tunnel.
var runCmd = &cobra.Command{
	Use:   "run --key <build-key> [--options <tunnel options>] -- <command> [args...]",
	Short: "Run a build command behind a tunnel",
	Long: `Opens a tunnel for the given build key, runs the command with the
tunnel environment exported and closes the tunnel when the command ends,
whether it succeeded or not.

The command sees SELENIUM_HOST, SELENIUM_PORT, SAUCE_USERNAME,
SAUCE_ACCESS_KEY and, when identifiers are generated, TUNNEL_IDENTIFIER.
tunnelctl exits with the command's exit code.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if runKey == "" {
		return fmt.Errorf("--key is required")
	}

	application, err := app.NewApplication(app.NewConfig(configPath, logLevel, logFormat))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	code, err := application.RunBuild(ctx, app.BuildRun{
		Key:     runKey,
		Options: runOptions,
		Command: args,
		Stdout:  cmd.OutOrStdout(),
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runKey, "key", "", "Build key that owns the tunnel (e.g. the CI job name)")
	runCmd.Flags().StringVar(&runOptions, "options", "", "Extra tunnel options for this build, merged after the configured ones")
}
