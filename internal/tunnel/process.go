package tunnel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"tunnelctl/pkg/logging"
)

// GenerationProcess is reported in Info for subprocess-backed tunnels.
const GenerationProcess = "process"

// reapTimeout bounds how long Close waits for the killed process to be reaped.
const reapTimeout = 10 * time.Second

// TunnelProcess is one running tunnel binary together with the watchers
// reading its output. It is owned by the launch call until registered.
type TunnelProcess struct {
	id         string
	handle     ProcessHandle
	sink       *logSink
	clock      clock.Clock
	binary     string
	launchedAt time.Time

	ready  atomic.Bool
	closed atomic.Bool

	watchers    sync.WaitGroup
	streamsDone chan struct{}
	exited      chan struct{}
	exitErr     error

	closeOnce sync.Once
	closeErr  error
}

func newTunnelProcess(handle ProcessHandle, sink *logSink, clk clock.Clock, binary string) *TunnelProcess {
	return &TunnelProcess{
		id:          uuid.NewString(),
		handle:      handle,
		sink:        sink,
		clock:       clk,
		binary:      binary,
		launchedAt:  clk.Now(),
		streamsDone: make(chan struct{}),
		exited:      make(chan struct{}),
	}
}

// watch attaches one watcher per output stream, both feeding gate, and a
// reaper that collects the exit status once both streams are drained.
func (p *TunnelProcess) watch(token string, gate *readinessGate) {
	onToken := func() {
		p.ready.Store(true)
		if gate.satisfy(reasonToken) {
			logging.Debug("Watcher", "Readiness token seen for tunnel %s", p.id)
		}
	}

	p.watchers.Add(2)
	go func() {
		defer p.watchers.Done()
		watchStream("stdout", p.handle.Stdout(), p.sink, token, onToken)
	}()
	go func() {
		defer p.watchers.Done()
		watchStream("stderr", p.handle.Stderr(), p.sink, token, onToken)
	}()

	go func() {
		p.watchers.Wait()
		close(p.streamsDone)
		p.exitErr = p.handle.Wait()
		close(p.exited)
		if !p.closed.Load() {
			logging.Warn("Launcher", "Tunnel %s (pid %d) exited: %v", p.id, p.handle.Pid(), describeExit(p.exitErr))
		}
	}()
}

func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

func (p *TunnelProcess) ID() string { return p.id }

// Ready reports whether the readiness token has been seen, even after the
// launch wait gave up.
func (p *TunnelProcess) Ready() bool { return p.ready.Load() }

// BuildLog writes line to the build log the tunnel was launched with.
func (p *TunnelProcess) BuildLog(line string) { p.sink.Println(line) }

// Exited is closed once the OS process has been reaped.
func (p *TunnelProcess) Exited() <-chan struct{} { return p.exited }

func (p *TunnelProcess) Info() Info {
	return Info{
		ID:         p.id,
		Generation: GenerationProcess,
		PID:        p.handle.Pid(),
		Endpoint:   p.binary,
		LaunchedAt: p.launchedAt,
		Ready:      p.ready.Load(),
		Closed:     p.closed.Load(),
	}
}

// Close closes all three streams, then kills the process group unless it was
// already reaped, and waits for it to be reaped. Every step is attempted regardless of earlier failures;
// the failures are logged and returned joined. Later calls return the result
// of the first.
func (p *TunnelProcess) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.teardown()
	})
	return p.closeErr
}

func (p *TunnelProcess) teardown() error {
	var errs []error

	streams := []struct {
		name string
		c    io.Closer
	}{
		{"stdin", p.handle.Stdin()},
		{"stdout", p.handle.Stdout()},
		{"stderr", p.handle.Stderr()},
	}
	for _, s := range streams {
		if s.c == nil {
			continue
		}
		if err := s.c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logging.Warn("TunnelManager", "Failed to close %s of tunnel %s: %v", s.name, p.id, err)
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}

	// A reaped pid may already belong to another process group.
	select {
	case <-p.exited:
		logging.Debug("TunnelManager", "Tunnel %s (pid %d) already exited, not killing", p.id, p.handle.Pid())
	default:
		if err := p.handle.Kill(); err != nil {
			logging.Error("TunnelManager", err, "Failed to kill tunnel %s (pid %d)", p.id, p.handle.Pid())
			errs = append(errs, fmt.Errorf("%w: pid %d: %w", ErrTerminationFailed, p.handle.Pid(), err))
		}
	}

	select {
	case <-p.exited:
	case <-p.clock.After(reapTimeout):
		logging.Warn("TunnelManager", "Tunnel %s (pid %d) not reaped after %s", p.id, p.handle.Pid(), reapTimeout)
	}

	return errors.Join(errs...)
}
