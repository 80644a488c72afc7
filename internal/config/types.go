package config

import (
	"time"
)

// TunnelctlConfig is the top-level configuration structure for tunnelctl.
type TunnelctlConfig struct {
	Tunnel      TunnelConfig      `yaml:"tunnel"`
	SSH         SSHConfig         `yaml:"ssh"`
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Generation selects which tunnel implementation backs the manager.
type Generation string

const (
	// GenerationProcess launches the external tunnel binary as a subprocess.
	GenerationProcess Generation = "process"
	// GenerationSSH opens the tunnel in-process over SSH remote forwarding (legacy).
	GenerationSSH Generation = "ssh"
)

// TunnelConfig controls how the tunnel binary is launched.
type TunnelConfig struct {
	Generation         Generation        `yaml:"generation,omitempty"`
	BinaryPath         string            `yaml:"binaryPath,omitempty"`         // Path or name looked up in PATH
	Options            string            `yaml:"options,omitempty"`            // Global options, merged before per-build options
	WorkingDirectory   string            `yaml:"workingDirectory,omitempty"`   // Working directory of the tunnel process
	Env                map[string]string `yaml:"env,omitempty"`                // Extra environment for the tunnel process
	ReadinessToken     string            `yaml:"readinessToken,omitempty"`     // Substring that marks the tunnel as up
	ReadinessTimeout   time.Duration     `yaml:"readinessTimeout,omitempty"`   // Upper bound for the readiness wait
	MaxRetries         int               `yaml:"maxRetries,omitempty"`         // Extra spawn attempts after a failure
	RetryWait          time.Duration     `yaml:"retryWait,omitempty"`          // Delay between spawn attempts
	Verbose            bool              `yaml:"verbose,omitempty"`            // Pass -v to the tunnel binary
	GenerateIdentifier bool              `yaml:"generateIdentifier,omitempty"` // Generate a per-build tunnel identifier
	SeleniumPort       int               `yaml:"seleniumPort,omitempty"`       // 0 picks a default
}

// SSHConfig configures the legacy SSH generation.
type SSHConfig struct {
	Endpoint       string        `yaml:"endpoint,omitempty"`       // host:port of the tunnel endpoint
	KnownHostsFile string        `yaml:"knownHostsFile,omitempty"` // Empty disables host key verification
	ConnectTimeout time.Duration `yaml:"connectTimeout,omitempty"`
}

// ServerConfig defines where the host daemon listens.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// CredentialsConfig holds the remote service account. Values are usually
// supplied through SAUCE_USERNAME and SAUCE_ACCESS_KEY rather than files.
type CredentialsConfig struct {
	Username  string `yaml:"username,omitempty"`
	AccessKey string `yaml:"accessKey,omitempty"`
}

// LoggingConfig configures the host logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}
