// Package buildwrap prepares a tunnel around a single build: it composes the
// tunnel options, opens and registers the tunnel under the build key and
// exports the environment the build's tests need to reach it.
package buildwrap

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"tunnelctl/internal/tunnel"
	"tunnelctl/pkg/logging"
)

// Environment variables exported to the build.
const (
	EnvSeleniumHost     = "SELENIUM_HOST"
	EnvSeleniumPort     = "SELENIUM_PORT"
	EnvUsername         = "SAUCE_USERNAME"
	EnvAccessKey        = "SAUCE_ACCESS_KEY"
	EnvTunnelIdentifier = "TUNNEL_IDENTIFIER"
)

const (
	DefaultSeleniumHost = "localhost"
	DefaultSeleniumPort = 4445
)

// Options are the host-wide settings applied to every wrapped build.
type Options struct {
	Credentials        tunnel.Credentials
	GlobalOptions      string // merged before the build's own options
	GenerateIdentifier bool
	SeleniumHost       string
	SeleniumPort       int // 0 picks a default
	Verbose            bool
	WorkingDirectory   string
}

// Environment is the set of variables exported to a wrapped build.
type Environment map[string]string

// Environ returns the variables as sorted KEY=VALUE entries.
func (e Environment) Environ() []string {
	out := make([]string, 0, len(e))
	for k, v := range e {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Wrapper opens tunnels for builds through a shared tunnel.Manager.
type Wrapper struct {
	manager tunnel.Manager
	opts    Options

	// For mocking in tests
	now      func() time.Time
	freePort func() (int, error)
}

func New(manager tunnel.Manager, opts Options) *Wrapper {
	if opts.SeleniumHost == "" {
		opts.SeleniumHost = DefaultSeleniumHost
	}
	return &Wrapper{
		manager:  manager,
		opts:     opts,
		now:      time.Now,
		freePort: FreePort,
	}
}

// Setup opens a tunnel for the build identified by key and registers it
// under that key. buildOptions are appended to the global options. The
// returned environment describes how to reach the tunnel.
func (w *Wrapper) Setup(ctx context.Context, key, buildOptions string, log io.Writer) (Environment, error) {
	_, env, err := w.Open(ctx, key, buildOptions, log)
	return env, err
}

// Open is Setup that also returns the tunnel it registered.
func (w *Wrapper) Open(ctx context.Context, key, buildOptions string, log io.Writer) (tunnel.Tunnel, Environment, error) {
	options := MergeOptions(w.opts.GlobalOptions, buildOptions)

	var identifier string
	if w.opts.GenerateIdentifier {
		identifier = GenerateTunnelIdentifier(key, w.now())
		options = MergeOptions(options, "--tunnel-identifier "+identifier)
	}

	port, pinned, err := w.seleniumPort(options, identifier != "")
	if err != nil {
		return nil, nil, err
	}
	if !pinned {
		options = MergeOptions(options, "-P "+strconv.Itoa(port))
	}

	logging.Info("BuildWrap", "Opening tunnel for %q (selenium port %d)", key, port)
	t, err := w.manager.OpenConnection(ctx, tunnel.LaunchRequest{
		Credentials:      w.opts.Credentials,
		Options:          options,
		WorkingDirectory: w.opts.WorkingDirectory,
		Verbose:          w.opts.Verbose,
		Forward: tunnel.Forward{
			Host:       w.opts.SeleniumHost,
			LocalPort:  port,
			RemotePort: port,
		},
		Log: log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open tunnel for %s: %w", key, err)
	}
	if err := w.manager.AddTunnelToMap(key, t); err != nil {
		if cerr := t.Close(); cerr != nil {
			logging.Error("BuildWrap", cerr, "Failed to close unregistered tunnel %s", t.ID())
		}
		return nil, nil, fmt.Errorf("failed to register tunnel for %s: %w", key, err)
	}

	env := Environment{
		EnvSeleniumHost: w.opts.SeleniumHost,
		EnvSeleniumPort: strconv.Itoa(port),
		EnvUsername:     w.opts.Credentials.Username,
		EnvAccessKey:    w.opts.Credentials.AccessKey,
	}
	if identifier != "" {
		env[EnvTunnelIdentifier] = identifier
	}
	return t, env, nil
}

// TearDown closes every tunnel opened for key. It is safe to call for a key
// that has no tunnels.
func (w *Wrapper) TearDown(key string) {
	logging.Info("BuildWrap", "Tearing down tunnels for %q", key)
	w.manager.CloseTunnelsForPlan(key)
}

// seleniumPort picks the port the build talks to. A port already pinned in
// options wins, then the configured port, then a free port when builds get
// their own tunnel identifier, then the default.
func (w *Wrapper) seleniumPort(options string, generated bool) (int, bool, error) {
	if p, ok := pinnedPort(options); ok {
		return p, true, nil
	}
	if w.opts.SeleniumPort > 0 {
		return w.opts.SeleniumPort, false, nil
	}
	if generated {
		p, err := w.freePort()
		if err != nil {
			return 0, false, fmt.Errorf("failed to find a free port: %w", err)
		}
		return p, false, nil
	}
	return DefaultSeleniumPort, false, nil
}

func pinnedPort(options string) (int, bool) {
	args, err := shellquote.Split(options)
	if err != nil {
		return 0, false
	}
	for i, a := range args {
		var v string
		switch {
		case (a == "-P" || a == "--se-port") && i+1 < len(args):
			v = args[i+1]
		case strings.HasPrefix(a, "--se-port="):
			v = strings.TrimPrefix(a, "--se-port=")
		default:
			continue
		}
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			return p, true
		}
	}
	return 0, false
}

// MergeOptions joins option strings with single spaces, skipping blank ones.
func MergeOptions(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

var unsafeIdentifierChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// GenerateTunnelIdentifier derives a unique tunnel identifier from a build
// name and the time it was requested.
func GenerateTunnelIdentifier(name string, now time.Time) string {
	return unsafeIdentifierChars.ReplaceAllString(name, "_") + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}

// FreePort asks the OS for a currently unused local TCP port.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
