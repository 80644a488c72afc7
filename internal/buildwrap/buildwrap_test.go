package buildwrap

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelctl/internal/tunnel"
	"tunnelctl/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForCLI(logging.LevelDebug, io.Discard)
	os.Exit(m.Run())
}

type stubTunnel struct {
	id     string
	closed bool
}

func (s *stubTunnel) ID() string        { return s.id }
func (s *stubTunnel) Info() tunnel.Info { return tunnel.Info{ID: s.id} }
func (s *stubTunnel) Close() error {
	s.closed = true
	return nil
}

// recordingManager captures requests and keeps a plain map as its registry.
type recordingManager struct {
	mu       sync.Mutex
	requests []tunnel.LaunchRequest
	tunnels  map[string][]tunnel.Tunnel
	openErr  error
	addErr   error
	closed   []string
}

func newRecordingManager() *recordingManager {
	return &recordingManager{tunnels: map[string][]tunnel.Tunnel{}}
}

func (m *recordingManager) OpenConnection(_ context.Context, req tunnel.LaunchRequest) (tunnel.Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &stubTunnel{id: "t1"}, nil
}

func (m *recordingManager) AddTunnelToMap(key string, t tunnel.Tunnel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.tunnels[key] = append(m.tunnels[key], t)
	return nil
}

func (m *recordingManager) CloseTunnelsForPlan(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, key)
	delete(m.tunnels, key)
}

func (m *recordingManager) TunnelMap() map[string][]tunnel.Tunnel { return m.tunnels }
func (m *recordingManager) CloseAll()                             {}

var creds = tunnel.Credentials{Username: "ci-bot", AccessKey: "s3cr3t"}

func TestMergeOptions(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"both", []string{"--global", "--build"}, "--global --build"},
		{"empty global", []string{"", "--build"}, "--build"},
		{"blank build", []string{"--global", "   "}, "--global"},
		{"nothing", []string{"", ""}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeOptions(tt.parts...))
		})
	}
}

func TestGenerateTunnelIdentifier(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "my_project_build-42-1700000000123", GenerateTunnelIdentifier("my project/build-42", now))
	assert.Equal(t, "plain_name-1700000000123", GenerateTunnelIdentifier("plain_name", now))
	assert.Equal(t, "a_b-1700000000123", GenerateTunnelIdentifier("a &%$ b", now))
}

func TestSetup_DefaultPort(t *testing.T) {
	m := newRecordingManager()
	w := New(m, Options{Credentials: creds, GlobalOptions: "--no-ssl-bump-domains all"})

	env, err := w.Setup(context.Background(), "build-42", "--verbose-proxy", nil)
	require.NoError(t, err)

	require.Len(t, m.requests, 1)
	req := m.requests[0]
	assert.Equal(t, "--no-ssl-bump-domains all --verbose-proxy -P 4445", req.Options)
	assert.Equal(t, creds, req.Credentials)
	assert.Equal(t, 4445, req.Forward.LocalPort)

	assert.Equal(t, Environment{
		EnvSeleniumHost: "localhost",
		EnvSeleniumPort: "4445",
		EnvUsername:     "ci-bot",
		EnvAccessKey:    "s3cr3t",
	}, env)
	assert.Len(t, m.tunnels["build-42"], 1)
}

func TestSetup_GeneratedIdentifierUsesFreePort(t *testing.T) {
	m := newRecordingManager()
	w := New(m, Options{Credentials: creds, GenerateIdentifier: true})
	w.now = func() time.Time { return time.UnixMilli(42) }
	w.freePort = func() (int, error) { return 50123, nil }

	env, err := w.Setup(context.Background(), "nightly build", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "--tunnel-identifier nightly_build-42 -P 50123", m.requests[0].Options)
	assert.Equal(t, "nightly_build-42", env[EnvTunnelIdentifier])
	assert.Equal(t, "50123", env[EnvSeleniumPort])
}

func TestSetup_ConfiguredPortWins(t *testing.T) {
	m := newRecordingManager()
	w := New(m, Options{Credentials: creds, GenerateIdentifier: true, SeleniumPort: 4000, SeleniumHost: "ondemand.local"})
	w.freePort = func() (int, error) { return 0, errors.New("must not be called") }

	env, err := w.Setup(context.Background(), "b", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "4000", env[EnvSeleniumPort])
	assert.Equal(t, "ondemand.local", env[EnvSeleniumHost])
	assert.Contains(t, m.requests[0].Options, "-P 4000")
}

func TestSetup_PortPinnedInOptions(t *testing.T) {
	m := newRecordingManager()
	w := New(m, Options{Credentials: creds, SeleniumPort: 4000})

	env, err := w.Setup(context.Background(), "b", "--se-port=5555", nil)
	require.NoError(t, err)
	assert.Equal(t, "5555", env[EnvSeleniumPort])
	assert.Equal(t, "--se-port=5555", m.requests[0].Options)
}

func TestSetup_OpenFailure(t *testing.T) {
	m := newRecordingManager()
	m.openErr = tunnel.ErrLaunchFailed
	w := New(m, Options{Credentials: creds})

	_, err := w.Setup(context.Background(), "b", "", nil)
	assert.ErrorIs(t, err, tunnel.ErrLaunchFailed)
	assert.Empty(t, m.tunnels)
}

func TestSetup_RegistrationFailureClosesTunnel(t *testing.T) {
	m := newRecordingManager()
	m.addErr = tunnel.ErrAlreadyRegistered
	w := New(m, Options{Credentials: creds})

	_, err := w.Setup(context.Background(), "b", "", nil)
	assert.ErrorIs(t, err, tunnel.ErrAlreadyRegistered)
}

func TestTearDown(t *testing.T) {
	m := newRecordingManager()
	w := New(m, Options{Credentials: creds})

	_, err := w.Setup(context.Background(), "b", "", nil)
	require.NoError(t, err)
	w.TearDown("b")
	w.TearDown("b")

	assert.Equal(t, []string{"b", "b"}, m.closed)
	assert.Empty(t, m.tunnels)
}

func TestEnvironment_Environ(t *testing.T) {
	env := Environment{"B": "2", "A": "1"}
	assert.Equal(t, []string{"A=1", "B=2"}, env.Environ())
}

func TestFreePort(t *testing.T) {
	p, err := FreePort()
	require.NoError(t, err)
	assert.Greater(t, p, 0)
}

func TestOpen_ReturnsRegisteredTunnel(t *testing.T) {
	m := newRecordingManager()
	w := New(m, Options{Credentials: creds})

	opened, env, err := w.Open(context.Background(), "build-42", "", nil)
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.Equal(t, "t1", opened.ID())
	assert.Same(t, opened, m.tunnels["build-42"][0])
	assert.Equal(t, "4445", env[EnvSeleniumPort])
}
