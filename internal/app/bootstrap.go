package app

import (
	"fmt"
	"io"
	"os"

	"tunnelctl/internal/config"
	"tunnelctl/pkg/logging"
)

// Application wires configuration, logging and the tunnel manager together.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration, configures logging and builds the
// tunnel manager for the configured generation.
func NewApplication(cfg *Config) (*Application, error) {
	out := cfg.LogOutput
	if out == nil {
		out = os.Stderr
	}

	// Command line level applies while the configuration itself is loaded
	level, err := logging.ParseLevel(orDefault(cfg.LogLevel, "info"))
	if err != nil {
		return nil, err
	}
	logging.InitForCLIWithFormat(level, out, orDefault(cfg.LogFormat, logging.FormatText))

	var tunnelctlCfg config.TunnelctlConfig
	if cfg.ConfigPath != "" {
		tunnelctlCfg, err = config.LoadConfigFromPath(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load tunnelctl configuration from path: %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load tunnelctl configuration from path %s: %w", cfg.ConfigPath, err)
		}
		logging.Debug("Bootstrap", "Loaded configuration from custom path: %s", cfg.ConfigPath)
	} else {
		tunnelctlCfg, err = config.LoadConfig()
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load tunnelctl configuration")
			return nil, fmt.Errorf("failed to load tunnelctl configuration: %w", err)
		}
		logging.Debug("Bootstrap", "Loaded configuration using layered approach")
	}
	cfg.TunnelctlConfig = &tunnelctlCfg

	if err := configureLogging(cfg, out); err != nil {
		return nil, err
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// configureLogging applies the configured level and format unless the
// command line already chose them.
func configureLogging(cfg *Config, out io.Writer) error {
	levelName := orDefault(cfg.LogLevel, cfg.TunnelctlConfig.Logging.Level)
	level, err := logging.ParseLevel(orDefault(levelName, "info"))
	if err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	format := orDefault(cfg.LogFormat, orDefault(cfg.TunnelctlConfig.Logging.Format, logging.FormatText))
	logging.InitForCLIWithFormat(level, out, format)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Services returns the initialized services.
func (a *Application) Services() *Services {
	return a.services
}

// TunnelctlConfig returns the loaded configuration.
func (a *Application) TunnelctlConfig() config.TunnelctlConfig {
	return *a.config.TunnelctlConfig
}
