package tunnel

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/kballard/go-shellquote"

	"tunnelctl/pkg/logging"
)

const (
	DefaultReadinessToken   = "Sauce Connect is up"
	DefaultReadinessTimeout = 2 * time.Minute
	DefaultRetryWait        = 5 * time.Second
)

// LauncherConfig holds the host-wide settings shared by every launch.
type LauncherConfig struct {
	BinaryPath       string
	ResolveBinary    func(string) (string, error) // defaults to exec.LookPath
	ReadinessToken   string
	ReadinessTimeout time.Duration
	MaxRetries       int // extra spawn attempts after the first failure
	RetryWait        time.Duration
	Env              map[string]string
	WorkingDirectory string
	Spawn            Spawner     // defaults to spawning with os/exec
	Clock            clock.Clock // defaults to the wall clock
}

// Launcher starts tunnel binaries one at a time. Its lock is held from binary
// resolution until the readiness wait of the spawned process has finished,
// so at most one launch is ever mid-handshake on a host.
type Launcher struct {
	cfg LauncherConfig
	mu  sync.Mutex
}

func NewLauncher(cfg LauncherConfig) *Launcher {
	if cfg.ResolveBinary == nil {
		cfg.ResolveBinary = exec.LookPath
	}
	if cfg.ReadinessToken == "" {
		cfg.ReadinessToken = DefaultReadinessToken
	}
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = DefaultReadinessTimeout
	}
	if cfg.MaxRetries > 0 && cfg.RetryWait <= 0 {
		cfg.RetryWait = DefaultRetryWait
	}
	if cfg.Spawn == nil {
		cfg.Spawn = spawnExec
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &Launcher{cfg: cfg}
}

// Launch spawns the tunnel binary for req and waits for it to report
// readiness. A readiness timeout is not an error: the process is returned
// with Ready() false. Errors are returned only when no process could be
// started; they always wrap ErrLaunchFailed.
//
// Cancelling ctx ends the readiness wait and any pending spawn retries early
// but never kills a process that was already started.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*TunnelProcess, error) {
	if err := req.Credentials.Validate(); err != nil {
		return nil, &LaunchError{Op: "validate", Err: err}
	}
	sink := newLogSink(req.Log, req.Credentials.AccessKey)

	l.mu.Lock()
	defer l.mu.Unlock()

	binary, err := l.cfg.ResolveBinary(l.cfg.BinaryPath)
	if err != nil {
		sink.Printf("Tunnel binary %s is not available: %v", l.cfg.BinaryPath, err)
		return nil, &LaunchError{Op: "resolve", Binary: l.cfg.BinaryPath, Err: fmt.Errorf("%w: %w", ErrBinaryUnavailable, err)}
	}

	args, err := buildArgs(req)
	if err != nil {
		sink.Printf("Invalid tunnel options %q: %v", req.Options, err)
		return nil, &LaunchError{Op: "options", Binary: binary, Err: err}
	}

	spec := CommandSpec{
		Path: binary,
		Args: args,
		Dir:  l.cfg.WorkingDirectory,
		Env:  envList(l.cfg.Env),
	}
	if req.WorkingDirectory != "" {
		spec.Dir = req.WorkingDirectory
	}

	cmdline := commandLine(binary, args, req.Credentials.AccessKey)
	sink.Printf("Launching tunnel: %s", cmdline)
	logging.Info("Launcher", "Launching tunnel for %s: %s", req.Credentials.Username, cmdline)

	handle, err := l.spawnWithRetry(ctx, spec)
	if err != nil {
		sink.Printf("Failed to launch tunnel: %v", err)
		logging.Error("Launcher", err, "Failed to launch tunnel binary %s", binary)
		return nil, &LaunchError{Op: "spawn", Binary: binary, Err: err}
	}

	proc := newTunnelProcess(handle, sink, l.cfg.Clock, binary)
	gate := newReadinessGate()
	proc.watch(l.cfg.ReadinessToken, gate)
	logging.Debug("Launcher", "Tunnel %s started with pid %d, waiting up to %s for readiness", proc.ID(), handle.Pid(), l.cfg.ReadinessTimeout)

	switch gate.wait(ctx, l.cfg.Clock, l.cfg.ReadinessTimeout, proc.streamsDone) {
	case reasonToken:
		sink.Printf("Tunnel %s is up", proc.ID())
		logging.Info("Launcher", "Tunnel %s (pid %d) is up", proc.ID(), handle.Pid())
	case reasonTimeout:
		sink.Printf("Tunnel %s did not report readiness within %s, continuing", proc.ID(), l.cfg.ReadinessTimeout)
		logging.Warn("Launcher", "Tunnel %s (pid %d) not ready after %s, continuing without confirmed readiness", proc.ID(), handle.Pid(), l.cfg.ReadinessTimeout)
	case reasonStreamsClosed:
		sink.Printf("Tunnel %s closed its output before reporting readiness", proc.ID())
		logging.Warn("Launcher", "Tunnel %s (pid %d) closed its output before reporting readiness", proc.ID(), handle.Pid())
	case reasonCancelled:
		sink.Printf("Stopped waiting for tunnel %s: %v", proc.ID(), ctx.Err())
		logging.Warn("Launcher", "Readiness wait for tunnel %s cancelled: %v", proc.ID(), ctx.Err())
	}

	return proc, nil
}

func (l *Launcher) spawnWithRetry(ctx context.Context, spec CommandSpec) (ProcessHandle, error) {
	if l.cfg.MaxRetries <= 0 {
		return l.cfg.Spawn(ctx, spec)
	}

	var handle ProcessHandle
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			h, err := l.cfg.Spawn(ctx, spec)
			if err != nil {
				return err
			}
			handle = h
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			lastErr = err
			logging.Warn("Launcher", "Spawn attempt %d/%d failed: %v", attempt, l.cfg.MaxRetries+1, err)
		},
		Attempts: l.cfg.MaxRetries + 1,
		Delay:    l.cfg.RetryWait,
		Clock:    l.cfg.Clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
		}
		return nil, err
	}
	return handle, nil
}

// buildArgs produces the tunnel binary argv: credentials first, then -v when
// requested, then the caller's options split without a shell.
func buildArgs(req LaunchRequest) ([]string, error) {
	opts, err := shellquote.Split(req.Options)
	if err != nil {
		return nil, err
	}
	args := []string{"-u", req.Credentials.Username, "-k", req.Credentials.AccessKey}
	if req.Verbose && !containsFlag(opts, "-v", "--verbose") {
		args = append(args, "-v")
	}
	return append(args, opts...), nil
}

func containsFlag(args []string, names ...string) bool {
	for _, a := range args {
		for _, n := range names {
			if a == n {
				return true
			}
		}
	}
	return false
}

// commandLine renders the invocation for logs with secret masked.
func commandLine(binary string, args []string, secret string) string {
	const placeholder = "__REDACTED__"
	masked := make([]string, len(args))
	for i, a := range args {
		if secret != "" {
			a = strings.ReplaceAll(a, secret, placeholder)
		}
		masked[i] = a
	}
	line := shellquote.Join(append([]string{binary}, masked...)...)
	return strings.ReplaceAll(line, placeholder, redacted)
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
