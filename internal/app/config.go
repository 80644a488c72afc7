package app

import (
	"io"
	"os"

	"tunnelctl/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Directory holding config.yaml; empty uses the layered lookup
	ConfigPath string

	// Logging overrides from the command line; empty keeps the configured value
	LogLevel  string
	LogFormat string

	// Where host logs go
	LogOutput io.Writer

	// Loaded tunnel configuration
	TunnelctlConfig *config.TunnelctlConfig
}

// NewConfig creates a new application configuration
func NewConfig(configPath, logLevel, logFormat string) *Config {
	return &Config{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		LogFormat:  logFormat,
		LogOutput:  os.Stderr,
	}
}
