package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd
var osGetenv = os.Getenv

const (
	userConfigDir    = ".config/tunnelctl"
	projectConfigDir = ".tunnelctl"
	configFileName   = "config.yaml"
)

// Environment variables that override file configuration.
const (
	EnvUsername   = "SAUCE_USERNAME"
	EnvAccessKey  = "SAUCE_ACCESS_KEY"
	EnvBinaryPath = "TUNNELCTL_BINARY"
)

// LoadConfig loads the tunnelctl configuration by layering default, user, and project settings,
// then applying environment overrides.
func LoadConfig() (TunnelctlConfig, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. User-specific configuration
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// user config is optional
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else {
		config, err = mergeFileIfExists(config, userConfigPath)
		if err != nil {
			return TunnelctlConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
	}

	// 3. Project-specific configuration
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else {
		config, err = mergeFileIfExists(config, projectConfigPath)
		if err != nil {
			return TunnelctlConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
	}

	return finalize(config)
}

// LoadConfigFromPath loads defaults plus the config.yaml found in configDir, skipping
// the user and project layers.
func LoadConfigFromPath(configDir string) (TunnelctlConfig, error) {
	path := filepath.Join(configDir, configFileName)
	if _, err := os.Stat(path); err != nil {
		return TunnelctlConfig{}, fmt.Errorf("config file %s: %w", path, err)
	}

	config, err := mergeFileIfExists(GetDefaultConfig(), path)
	if err != nil {
		return TunnelctlConfig{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	return finalize(config)
}

func finalize(config TunnelctlConfig) (TunnelctlConfig, error) {
	config = applyEnvOverrides(config)
	config = applyDerivedDefaults(config)
	if err := config.Validate(); err != nil {
		return TunnelctlConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

func mergeFileIfExists(base TunnelctlConfig, path string) (TunnelctlConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	overlay, err := loadConfigFromFile(path)
	if err != nil {
		return TunnelctlConfig{}, err
	}
	return mergeConfigs(base, overlay), nil
}

// loadConfigFromFile loads a TunnelctlConfig from a YAML file.
func loadConfigFromFile(filePath string) (TunnelctlConfig, error) {
	var config TunnelctlConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return TunnelctlConfig{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return TunnelctlConfig{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Zero values in the
// overlay leave the base untouched.
func mergeConfigs(base, overlay TunnelctlConfig) TunnelctlConfig {
	merged := base

	t, o := &merged.Tunnel, overlay.Tunnel
	if o.Generation != "" {
		t.Generation = o.Generation
	}
	if o.BinaryPath != "" {
		t.BinaryPath = o.BinaryPath
	}
	if o.Options != "" {
		t.Options = o.Options
	}
	if o.WorkingDirectory != "" {
		t.WorkingDirectory = o.WorkingDirectory
	}
	if len(o.Env) > 0 {
		env := make(map[string]string, len(t.Env)+len(o.Env))
		for k, v := range t.Env {
			env[k] = v
		}
		for k, v := range o.Env {
			env[k] = v
		}
		t.Env = env
	}
	if o.ReadinessToken != "" {
		t.ReadinessToken = o.ReadinessToken
	}
	if o.ReadinessTimeout != 0 {
		t.ReadinessTimeout = o.ReadinessTimeout
	}
	if o.MaxRetries != 0 {
		t.MaxRetries = o.MaxRetries
	}
	if o.RetryWait != 0 {
		t.RetryWait = o.RetryWait
	}
	if o.Verbose {
		t.Verbose = true
	}
	if o.GenerateIdentifier {
		t.GenerateIdentifier = true
	}
	if o.SeleniumPort != 0 {
		t.SeleniumPort = o.SeleniumPort
	}

	if overlay.SSH.Endpoint != "" {
		merged.SSH.Endpoint = overlay.SSH.Endpoint
	}
	if overlay.SSH.KnownHostsFile != "" {
		merged.SSH.KnownHostsFile = overlay.SSH.KnownHostsFile
	}
	if overlay.SSH.ConnectTimeout != 0 {
		merged.SSH.ConnectTimeout = overlay.SSH.ConnectTimeout
	}

	if overlay.Server.Host != "" {
		merged.Server.Host = overlay.Server.Host
	}
	if overlay.Server.Port != 0 {
		merged.Server.Port = overlay.Server.Port
	}

	if overlay.Credentials.Username != "" {
		merged.Credentials.Username = overlay.Credentials.Username
	}
	if overlay.Credentials.AccessKey != "" {
		merged.Credentials.AccessKey = overlay.Credentials.AccessKey
	}

	if overlay.Logging.Level != "" {
		merged.Logging.Level = overlay.Logging.Level
	}
	if overlay.Logging.Format != "" {
		merged.Logging.Format = overlay.Logging.Format
	}

	return merged
}

func applyEnvOverrides(config TunnelctlConfig) TunnelctlConfig {
	if v := osGetenv(EnvUsername); v != "" {
		config.Credentials.Username = v
	}
	if v := osGetenv(EnvAccessKey); v != "" {
		config.Credentials.AccessKey = v
	}
	if v := osGetenv(EnvBinaryPath); v != "" {
		config.Tunnel.BinaryPath = v
	}
	return config
}

func applyDerivedDefaults(config TunnelctlConfig) TunnelctlConfig {
	if config.Tunnel.MaxRetries > 0 && config.Tunnel.RetryWait <= 0 {
		config.Tunnel.RetryWait = DefaultRetryWait
	}
	return config
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
