package tunnel

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// For mocking in tests
var execCommand = exec.Command

// CommandSpec is a fully resolved tunnel binary invocation.
type CommandSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string // KEY=VALUE entries appended to the inherited environment
}

// ProcessHandle is one launched tunnel process and its standard streams.
type ProcessHandle interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Kill forcibly terminates the process (and its process group where supported).
	Kill() error
	// Wait blocks until the process exits. Only call it after both output
	// streams have been drained or closed.
	Wait() error
}

// Spawner starts a process. It must return an error if the OS did not start it.
type Spawner func(ctx context.Context, spec CommandSpec) (ProcessHandle, error)

type execHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	waitOnce sync.Once
	waitErr  error
}

// spawnExec is the default Spawner. The process is not bound to ctx: a tunnel
// outlives the call that launched it.
func spawnExec(_ context.Context, spec CommandSpec) (ProcessHandle, error) {
	cmd := execCommand(spec.Path, spec.Args...)
	configureProcessGroup(cmd)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		base := cmd.Env
		if base == nil {
			base = os.Environ()
		}
		cmd.Env = append(base, spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &execHandle{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (h *execHandle) Pid() int              { return h.cmd.Process.Pid }
func (h *execHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *execHandle) Stdout() io.ReadCloser { return h.stdout }
func (h *execHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *execHandle) Kill() error {
	return killProcess(h.cmd)
}

func (h *execHandle) Wait() error {
	h.waitOnce.Do(func() {
		h.waitErr = h.cmd.Wait()
	})
	return h.waitErr
}
