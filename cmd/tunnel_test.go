package cmd

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelctl/internal/buildwrap"
	"tunnelctl/internal/client"
	"tunnelctl/internal/server"
	"tunnelctl/internal/tunnel"
)

type stubTunnel struct{ id string }

func (s *stubTunnel) ID() string        { return s.id }
func (s *stubTunnel) Info() tunnel.Info { return tunnel.Info{ID: s.id, Generation: "stub", Ready: true} }
func (s *stubTunnel) Close() error      { return nil }

type stubManager struct {
	*tunnel.Registry
	opened int
}

func (m *stubManager) OpenConnection(context.Context, tunnel.LaunchRequest) (tunnel.Tunnel, error) {
	m.opened++
	return &stubTunnel{id: fmt.Sprintf("tun-%d", m.opened)}, nil
}
func (m *stubManager) AddTunnelToMap(key string, t tunnel.Tunnel) error { return m.Add(key, t) }
func (m *stubManager) CloseTunnelsForPlan(key string)                   { tunnel.CloseTunnels("Test", key, m.RemoveAll(key)) }
func (m *stubManager) TunnelMap() map[string][]tunnel.Tunnel            { return m.Snapshot() }
func (m *stubManager) CloseAll()                                        {}

// startDaemon serves a stub manager and waits until it accepts sessions.
func startDaemon(t *testing.T) string {
	t.Helper()
	port, err := buildwrap.FreePort()
	require.NoError(t, err)

	s := server.New(&stubManager{Registry: tunnel.NewRegistry()}, server.Config{
		Host: "127.0.0.1",
		Port: port,
		Build: buildwrap.Options{
			Credentials: tunnel.Credentials{Username: "ci-bot", AccessKey: "s3cr3t"},
		},
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	endpoint := client.Endpoint("127.0.0.1", port)
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c, err := client.Dial(ctx, endpoint)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 10*time.Second, 50*time.Millisecond)
	return endpoint
}

// executeTunnel runs a tunnel subcommand and returns its stdout.
func executeTunnel(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// cobra keeps flag values between executions
	daemonEndpoint = ""
	tunnelOutputFormat = outputTable
	openOptions = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"tunnel"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		daemonEndpoint = ""
		tunnelOutputFormat = outputTable
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTunnelCommands_OpenListClose(t *testing.T) {
	endpoint := startDaemon(t)

	out, err := executeTunnel(t, "open", "build-42", "--endpoint", endpoint)
	require.NoError(t, err)
	assert.Contains(t, out, "# tunnel tun-1 for build-42")
	assert.Contains(t, out, "export SELENIUM_PORT=4445")
	assert.Contains(t, out, "export SAUCE_USERNAME=ci-bot")

	out, err = executeTunnel(t, "list", "--endpoint", endpoint)
	require.NoError(t, err)
	assert.Contains(t, out, "build-42")
	assert.Contains(t, out, "tun-1")

	out, err = executeTunnel(t, "list", "--endpoint", endpoint, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"key": "build-42"`)

	out, err = executeTunnel(t, "close", "build-42", "--endpoint", endpoint)
	require.NoError(t, err)
	assert.Contains(t, out, "Closed 1 tunnel(s) for 'build-42'")

	out, err = executeTunnel(t, "list", "--endpoint", endpoint)
	require.NoError(t, err)
	assert.Contains(t, out, "No tunnels registered")
}

func TestTunnelCommands_OpenYAML(t *testing.T) {
	endpoint := startDaemon(t)

	out, err := executeTunnel(t, "open", "build-7", "--endpoint", endpoint, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "key: build-7")
	assert.Contains(t, out, "SELENIUM_HOST: localhost")
}

func TestTunnelCommands_DaemonDown(t *testing.T) {
	port, err := buildwrap.FreePort()
	require.NoError(t, err)

	_, err = executeTunnel(t, "list", "--endpoint", client.Endpoint("127.0.0.1", port))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tunnelctl serve")
}

func TestWriteStructured_UnknownFormat(t *testing.T) {
	err := writeStructured(&bytes.Buffer{}, "xml", map[string]string{})
	assert.Error(t, err)
}

func TestEnvLines(t *testing.T) {
	lines := envLines(map[string]string{
		"SELENIUM_PORT":    "4445",
		"SAUCE_ACCESS_KEY": "a b",
	})
	assert.Equal(t, []string{"SAUCE_ACCESS_KEY='a b'", "SELENIUM_PORT=4445"}, lines)
}
