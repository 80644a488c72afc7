// Package sshtunnel is the legacy tunnel generation: instead of launching a
// tunnel binary it logs in to the tunnel endpoint over SSH and asks it to
// forward a remote port back to a local service.
package sshtunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"tunnelctl/internal/tunnel"
	"tunnelctl/pkg/logging"
)

// ErrNotOnline is returned when the endpoint could not be reached or refused
// the credentials within the connect timeout.
var ErrNotOnline = errors.New("tunnel endpoint did not come online")

const (
	defaultConnectTimeout = 30 * time.Second
	defaultLocalHost      = "localhost"
	defaultRemoteDomain   = "127.0.0.1"
)

// Config configures the SSH generation.
type Config struct {
	Endpoint       string        // host:port
	KnownHostsFile string        // empty skips host key verification
	ConnectTimeout time.Duration // bounds dial plus handshake
}

// Manager implements tunnel.Manager over SSH remote forwarding. It keeps its
// own registry and launch lock; nothing is shared with the process generation.
type Manager struct {
	cfg         Config
	hostKeyFunc ssh.HostKeyCallback
	registry    *tunnel.Registry

	// For mocking in tests
	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	mu sync.Mutex
}

var _ tunnel.Manager = (*Manager)(nil)

// New builds a Manager. A configured known_hosts file must be readable.
func New(cfg Config) (*Manager, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ssh endpoint is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	hostKeyFunc := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKeyFunc = cb
	} else {
		logging.Warn("SSHTunnel", "No known hosts file configured, host key of %s will not be verified", cfg.Endpoint)
	}

	d := &net.Dialer{}
	return &Manager{
		cfg:         cfg,
		hostKeyFunc: hostKeyFunc,
		registry:    tunnel.NewRegistry(),
		dial:        d.DialContext,
	}, nil
}

// OpenConnection logs in to the endpoint and requests a listener on
// Forward.Domain:Forward.RemotePort whose connections are proxied to
// Forward.Host:Forward.LocalPort. Unlike the process generation there is no
// optimistic continuation: an endpoint that cannot be reached fails the call.
func (m *Manager) OpenConnection(ctx context.Context, req tunnel.LaunchRequest) (tunnel.Tunnel, error) {
	if err := req.Credentials.Validate(); err != nil {
		return nil, &tunnel.LaunchError{Op: "validate", Err: err}
	}
	fwd := req.Forward
	if fwd.Host == "" {
		fwd.Host = defaultLocalHost
	}
	if fwd.Domain == "" {
		fwd.Domain = defaultRemoteDomain
	}
	if fwd.LocalPort <= 0 || fwd.RemotePort < 0 {
		return nil, &tunnel.LaunchError{Op: "options", Err: fmt.Errorf("invalid forward %d -> %s:%d", fwd.RemotePort, fwd.Host, fwd.LocalPort)}
	}
	log := &buildLog{w: req.Log}

	m.mu.Lock()
	defer m.mu.Unlock()

	log.Printf("Connecting to tunnel endpoint %s as %s", m.cfg.Endpoint, req.Credentials.Username)
	client, err := m.connect(ctx, req.Credentials)
	if err != nil {
		log.Printf("Tunnel endpoint %s did not come online: %v", m.cfg.Endpoint, err)
		logging.Error("SSHTunnel", err, "Failed to connect to %s", m.cfg.Endpoint)
		return nil, &tunnel.LaunchError{Op: "connect", Binary: m.cfg.Endpoint, Err: fmt.Errorf("%w: %w", ErrNotOnline, err)}
	}

	remoteAddr := net.JoinHostPort(fwd.Domain, strconv.Itoa(fwd.RemotePort))
	listener, err := client.Listen("tcp", remoteAddr)
	if err != nil {
		client.Close()
		log.Printf("Remote forward of %s refused: %v", remoteAddr, err)
		return nil, &tunnel.LaunchError{Op: "forward", Binary: m.cfg.Endpoint, Err: err}
	}

	t := newTunnel(client, listener, net.JoinHostPort(fwd.Host, strconv.Itoa(fwd.LocalPort)), m.cfg.Endpoint, log)
	t.start()

	log.Printf("Tunnel %s is up: %s -> %s", t.ID(), t.RemoteAddr(), t.target)
	logging.Info("SSHTunnel", "Tunnel %s forwarding %s to %s", t.ID(), t.RemoteAddr(), t.target)
	return t, nil
}

func (m *Manager) connect(ctx context.Context, creds tunnel.Credentials) (*ssh.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", m.cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	clientConfig := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.AccessKey)},
		HostKeyCallback: m.hostKeyFunc,
		Timeout:         m.cfg.ConnectTimeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, m.cfg.Endpoint, clientConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func (m *Manager) AddTunnelToMap(key string, t tunnel.Tunnel) error {
	if err := m.registry.Add(key, t); err != nil {
		return err
	}
	logging.Info("SSHTunnel", "Registered tunnel %s for %q", t.ID(), key)
	return nil
}

func (m *Manager) CloseTunnelsForPlan(key string) {
	tunnel.CloseTunnels("SSHTunnel", key, m.registry.RemoveAll(key))
}

func (m *Manager) TunnelMap() map[string][]tunnel.Tunnel {
	return m.registry.Snapshot()
}

func (m *Manager) CloseAll() {
	for _, key := range m.registry.Keys() {
		m.CloseTunnelsForPlan(key)
	}
}

// buildLog serializes lines written by the launch and the proxy goroutines.
type buildLog struct {
	mu sync.Mutex
	w  io.Writer
}

func (b *buildLog) Printf(format string, args ...interface{}) {
	if b.w == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(b.w, format+"\n", args...)
}
