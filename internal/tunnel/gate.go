package tunnel

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

// gateReason records what satisfied a readiness gate.
type gateReason string

const (
	reasonToken         gateReason = "token"
	reasonTimeout       gateReason = "timeout"
	reasonStreamsClosed gateReason = "streams-closed"
	reasonCancelled     gateReason = "cancelled"
)

// readinessGate is a single-assignment signal shared by one launch and its
// stream watchers. Only the first satisfy call has any effect.
type readinessGate struct {
	once   sync.Once
	done   chan struct{}
	reason gateReason
}

func newReadinessGate() *readinessGate {
	return &readinessGate{done: make(chan struct{})}
}

// satisfy opens the gate and reports whether this call was the one that did.
func (g *readinessGate) satisfy(r gateReason) bool {
	opened := false
	g.once.Do(func() {
		g.reason = r
		close(g.done)
		opened = true
	})
	return opened
}

func (g *readinessGate) Done() <-chan struct{} {
	return g.done
}

// wait blocks until the gate opens, the timeout elapses, streamsClosed is
// closed or ctx is done. Whatever happens first satisfies the gate, so a
// token seen afterwards releases nobody.
func (g *readinessGate) wait(ctx context.Context, clk clock.Clock, timeout time.Duration, streamsClosed <-chan struct{}) gateReason {
	select {
	case <-g.done:
		return g.reason
	default:
	}

	timer := clk.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
	case <-timer.Chan():
		g.satisfy(reasonTimeout)
	case <-streamsClosed:
		g.satisfy(reasonStreamsClosed)
	case <-ctx.Done():
		g.satisfy(reasonCancelled)
	}
	<-g.done
	return g.reason
}
