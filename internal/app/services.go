package app

import (
	"fmt"

	"tunnelctl/internal/buildwrap"
	"tunnelctl/internal/config"
	"tunnelctl/internal/tunnel"
	"tunnelctl/internal/tunnel/sshtunnel"
	"tunnelctl/pkg/logging"
)

// Services holds the tunnel manager and the build wrapper built on it.
type Services struct {
	Manager tunnel.Manager
	Wrapper *buildwrap.Wrapper
	Build   buildwrap.Options
}

// InitializeServices creates the manager for the configured generation.
func InitializeServices(cfg *Config) (*Services, error) {
	manager, err := NewManager(*cfg.TunnelctlConfig)
	if err != nil {
		return nil, err
	}
	opts := BuildOptions(*cfg.TunnelctlConfig)
	return &Services{
		Manager: manager,
		Wrapper: buildwrap.New(manager, opts),
		Build:   opts,
	}, nil
}

// NewManager returns the tunnel.Manager implementation selected by
// tunnel.generation. The two generations share no state.
func NewManager(cfg config.TunnelctlConfig) (tunnel.Manager, error) {
	switch cfg.Tunnel.Generation {
	case config.GenerationProcess, "":
		t := cfg.Tunnel
		launcher := tunnel.NewLauncher(tunnel.LauncherConfig{
			BinaryPath:       t.BinaryPath,
			ReadinessToken:   t.ReadinessToken,
			ReadinessTimeout: t.ReadinessTimeout,
			MaxRetries:       t.MaxRetries,
			RetryWait:        t.RetryWait,
			Env:              t.Env,
			WorkingDirectory: t.WorkingDirectory,
		})
		logging.Debug("Bootstrap", "Using process tunnel generation with binary %s", t.BinaryPath)
		return tunnel.NewProcessManager(launcher), nil
	case config.GenerationSSH:
		m, err := sshtunnel.New(sshtunnel.Config{
			Endpoint:       cfg.SSH.Endpoint,
			KnownHostsFile: cfg.SSH.KnownHostsFile,
			ConnectTimeout: cfg.SSH.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		logging.Debug("Bootstrap", "Using ssh tunnel generation with endpoint %s", cfg.SSH.Endpoint)
		return m, nil
	default:
		return nil, fmt.Errorf("unknown tunnel generation %q", cfg.Tunnel.Generation)
	}
}

// BuildOptions maps the configuration onto the build wrapper options.
func BuildOptions(cfg config.TunnelctlConfig) buildwrap.Options {
	return buildwrap.Options{
		Credentials: tunnel.Credentials{
			Username:  cfg.Credentials.Username,
			AccessKey: cfg.Credentials.AccessKey,
		},
		GlobalOptions:      cfg.Tunnel.Options,
		GenerateIdentifier: cfg.Tunnel.GenerateIdentifier,
		SeleniumPort:       cfg.Tunnel.SeleniumPort,
		Verbose:            cfg.Tunnel.Verbose,
	}
}
