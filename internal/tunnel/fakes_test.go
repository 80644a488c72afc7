package tunnel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tunnelctl/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForCLI(logging.LevelDebug, io.Discard)
	os.Exit(m.Run())
}

// fakeExecCommand re-executes the test binary as a stand-in tunnel binary.
func fakeExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

// TestHelperProcess is not a real test. It's used by fakeExecCommand.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	mode := ""
	for i, a := range args {
		if a == "--helper-mode" && i+1 < len(args) {
			mode = args[i+1]
		}
	}

	switch mode {
	case "ready":
		fmt.Fprintln(os.Stdout, "Starting up")
		fmt.Fprintln(os.Stdout, DefaultReadinessToken)
	case "echo":
		fmt.Fprintf(os.Stdout, "ARGS: %s\n", strings.Join(args[1:], " "))
		fmt.Fprintln(os.Stderr, DefaultReadinessToken+" (stderr)")
	case "exit":
		fmt.Fprintln(os.Stderr, "cannot connect")
		os.Exit(3)
	}
	// stay up until killed
	time.Sleep(time.Hour)
	os.Exit(0)
}

// fakeHandle is an in-memory ProcessHandle whose output is driven by the test.
type fakeHandle struct {
	pid int

	stdinR, stdoutR, stderrR *io.PipeReader
	stdinW, stdoutW, stderrW *io.PipeWriter

	killErr  error
	killed   atomic.Bool
	exitOnce sync.Once
	done     chan struct{}
}

func newFakeHandle(pid int) *fakeHandle {
	h := &fakeHandle{pid: pid, done: make(chan struct{})}
	h.stdinR, h.stdinW = io.Pipe()
	h.stdoutR, h.stdoutW = io.Pipe()
	h.stderrR, h.stderrW = io.Pipe()
	go func() { _, _ = io.Copy(io.Discard, h.stdinR) }()
	return h
}

func (h *fakeHandle) Pid() int              { return h.pid }
func (h *fakeHandle) Stdin() io.WriteCloser { return h.stdinW }
func (h *fakeHandle) Stdout() io.ReadCloser { return h.stdoutR }
func (h *fakeHandle) Stderr() io.ReadCloser { return h.stderrR }

// println writes a line on stdout; it blocks until a watcher reads it.
func (h *fakeHandle) println(line string) {
	_, _ = io.WriteString(h.stdoutW, line+"\n")
}

func (h *fakeHandle) exit() {
	h.exitOnce.Do(func() {
		h.stdoutW.Close()
		h.stderrW.Close()
		h.stdinR.Close()
		close(h.done)
	})
}

func (h *fakeHandle) Kill() error {
	h.killed.Store(true)
	h.exit()
	return h.killErr
}

func (h *fakeHandle) Wait() error {
	<-h.done
	return nil
}

// fakeSpawner hands out fakeHandles and runs script against each of them.
type fakeSpawner struct {
	mu      sync.Mutex
	calls   int
	specs   []CommandSpec
	handles []*fakeHandle
	err     error
	script  func(h *fakeHandle)
}

func (s *fakeSpawner) Spawn(_ context.Context, spec CommandSpec) (ProcessHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.specs = append(s.specs, spec)
	if s.err != nil {
		return nil, s.err
	}
	h := newFakeHandle(1000 + s.calls)
	s.handles = append(s.handles, h)
	if s.script != nil {
		go s.script(h)
	}
	return h, nil
}

func (s *fakeSpawner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeTunnel is a Tunnel with a scripted Close.
type fakeTunnel struct {
	id       string
	closeErr error
	closes   atomic.Int32
	logMu    sync.Mutex
	log      []string
}

func (f *fakeTunnel) ID() string  { return f.id }
func (f *fakeTunnel) Info() Info  { return Info{ID: f.id, Generation: "fake"} }
func (f *fakeTunnel) Close() error {
	f.closes.Add(1)
	return f.closeErr
}

func (f *fakeTunnel) BuildLog(line string) {
	f.logMu.Lock()
	defer f.logMu.Unlock()
	f.log = append(f.log, line)
}

func (f *fakeTunnel) lines() []string {
	f.logMu.Lock()
	defer f.logMu.Unlock()
	return append([]string(nil), f.log...)
}

// syncBuffer is a bytes.Buffer safe for a concurrent reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var errSpawn = errors.New("exec format error")

func testCredentials() Credentials {
	return Credentials{Username: "ci-bot", AccessKey: "s3cr3t-key"}
}

func resolveAsIs(path string) (string, error) { return path, nil }
