package sshtunnel

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"tunnelctl/internal/tunnel"
	"tunnelctl/pkg/logging"
)

// GenerationSSH is reported in Info for SSH tunnels.
const GenerationSSH = "ssh"

// Tunnel is one SSH connection with a single remote forward.
type Tunnel struct {
	id         string
	client     *ssh.Client
	listener   net.Listener
	target     string
	endpoint   string
	log        *buildLog
	launchedAt time.Time

	proxies   sync.WaitGroup
	connsMu   sync.Mutex
	conns     map[net.Conn]struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newTunnel(client *ssh.Client, listener net.Listener, target, endpoint string, log *buildLog) *Tunnel {
	return &Tunnel{
		id:         uuid.NewString(),
		client:     client,
		listener:   listener,
		target:     target,
		endpoint:   endpoint,
		log:        log,
		launchedAt: time.Now(),
		conns:      make(map[net.Conn]struct{}),
	}
}

func (t *Tunnel) ID() string { return t.id }

func (t *Tunnel) Info() tunnel.Info {
	return tunnel.Info{
		ID:         t.id,
		Generation: GenerationSSH,
		Endpoint:   t.endpoint,
		LaunchedAt: t.launchedAt,
		Ready:      !t.closed.Load(),
		Closed:     t.closed.Load(),
	}
}

func (t *Tunnel) BuildLog(line string) { t.log.Printf("%s", line) }

// RemoteAddr is the address the endpoint listens on for this tunnel.
func (t *Tunnel) RemoteAddr() string { return t.listener.Addr().String() }

func (t *Tunnel) start() {
	t.proxies.Add(1)
	go func() {
		defer t.proxies.Done()
		t.serve()
	}()
}

// serve accepts forwarded connections until the listener is closed.
func (t *Tunnel) serve() {
	for {
		remote, err := t.listener.Accept()
		if err != nil {
			if !t.closed.Load() {
				logging.Warn("SSHTunnel", "Tunnel %s stopped accepting: %v", t.id, err)
			}
			return
		}
		t.proxies.Add(1)
		go func() {
			defer t.proxies.Done()
			t.proxy(remote)
		}()
	}
}

func (t *Tunnel) proxy(remote net.Conn) {
	local, err := net.DialTimeout("tcp", t.target, 10*time.Second)
	if err != nil {
		logging.Warn("SSHTunnel", "Tunnel %s cannot reach %s: %v", t.id, t.target, err)
		remote.Close()
		return
	}
	if !t.track(remote, local) {
		return
	}
	defer t.untrack(remote, local)

	done := make(chan struct{}, 2)
	pipe := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		if cw, ok := dst.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		done <- struct{}{}
	}
	go pipe(local, remote)
	go pipe(remote, local)
	<-done
	<-done
}

func (t *Tunnel) track(conns ...net.Conn) bool {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if t.closed.Load() {
		for _, c := range conns {
			c.Close()
		}
		return false
	}
	for _, c := range conns {
		t.conns[c] = struct{}{}
	}
	return true
}

func (t *Tunnel) untrack(conns ...net.Conn) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	for _, c := range conns {
		c.Close()
		delete(t.conns, c)
	}
}

// Close stops the remote listener, drops every proxied connection, closes
// the SSH connection and waits for the proxy goroutines to finish.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		var errs []error
		if err := t.listener.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}

		t.connsMu.Lock()
		for c := range t.conns {
			c.Close()
		}
		t.connsMu.Unlock()

		if err := t.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		t.proxies.Wait()
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}
