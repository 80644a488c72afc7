package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"tunnelctl/internal/server"
	"tunnelctl/pkg/logging"
)

// For mocking in tests
var execCommandContext = exec.CommandContext

// Serve runs the host daemon until ctx is cancelled or SIGINT/SIGTERM
// arrives, then closes every tunnel it opened.
func (a *Application) Serve(ctx context.Context, version string) error {
	cfg := a.config.TunnelctlConfig
	srv := server.New(a.services.Manager, server.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
		Build:   a.services.Build,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	logging.Info("Server", "Daemon running (%s generation). Press Ctrl+C to stop and close all tunnels.", cfg.Tunnel.Generation)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
	case sig := <-sigChan:
		logging.Info("Server", "Received %s, shutting down", sig)
	}

	return srv.Stop(context.Background())
}

// BuildRun describes one wrapped build command.
type BuildRun struct {
	Key     string
	Options string
	Command []string
	Stdout  io.Writer
	Stderr  io.Writer // also receives the tunnel's build log
}

// RunBuild opens a tunnel for run.Key, runs the command with the tunnel
// environment and always tears the tunnel down afterwards. It returns the
// command's exit code.
func (a *Application) RunBuild(ctx context.Context, run BuildRun) (int, error) {
	if len(run.Command) == 0 {
		return 1, fmt.Errorf("no command given")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := a.services.Wrapper.Setup(ctx, run.Key, run.Options, run.Stderr)
	if err != nil {
		return 1, err
	}
	defer a.services.Wrapper.TearDown(run.Key)

	cmd := execCommandContext(ctx, run.Command[0], run.Command[1:]...)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, env.Environ()...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = run.Stdout
	cmd.Stderr = run.Stderr

	logging.Info("BuildWrap", "Running %q for %q", run.Command[0], run.Key)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				code = 1
			}
			logging.Warn("BuildWrap", "Command for %q exited with %d", run.Key, code)
			return code, nil
		}
		return 1, fmt.Errorf("failed to run %s: %w", run.Command[0], err)
	}
	return 0, nil
}
