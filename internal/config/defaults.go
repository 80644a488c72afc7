package config

import (
	"fmt"
	"time"
)

const (
	DefaultBinaryPath       = "sc"
	DefaultReadinessToken   = "Sauce Connect is up"
	DefaultReadinessTimeout = 2 * time.Minute
	DefaultRetryWait        = 5 * time.Second
	DefaultConnectTimeout   = 30 * time.Second
	DefaultServerHost       = "localhost"
	DefaultServerPort       = 8099
)

// GetDefaultConfig returns the built-in configuration every layer is merged onto.
func GetDefaultConfig() TunnelctlConfig {
	return TunnelctlConfig{
		Tunnel: TunnelConfig{
			Generation:       GenerationProcess,
			BinaryPath:       DefaultBinaryPath,
			ReadinessToken:   DefaultReadinessToken,
			ReadinessTimeout: DefaultReadinessTimeout,
		},
		SSH: SSHConfig{
			ConnectTimeout: DefaultConnectTimeout,
		},
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports configuration values the launcher cannot work with.
func (c TunnelctlConfig) Validate() error {
	switch c.Tunnel.Generation {
	case GenerationProcess, GenerationSSH:
	default:
		return fmt.Errorf("unknown tunnel generation %q (expected %q or %q)", c.Tunnel.Generation, GenerationProcess, GenerationSSH)
	}
	if c.Tunnel.MaxRetries < 0 {
		return fmt.Errorf("tunnel.maxRetries must not be negative, got %d", c.Tunnel.MaxRetries)
	}
	if c.Tunnel.ReadinessTimeout <= 0 {
		return fmt.Errorf("tunnel.readinessTimeout must be positive, got %s", c.Tunnel.ReadinessTimeout)
	}
	if c.Tunnel.Generation == GenerationSSH {
		if c.SSH.Endpoint == "" {
			return fmt.Errorf("ssh.endpoint is required for the %q generation", GenerationSSH)
		}
		if c.SSH.ConnectTimeout <= 0 {
			return fmt.Errorf("ssh.connectTimeout must be positive, got %s", c.SSH.ConnectTimeout)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
