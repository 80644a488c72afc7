// Package config provides configuration management for tunnelctl.
//
// This package implements a layered configuration system. Configuration is
// loaded from multiple sources and merged in a specific order, with later
// sources overriding earlier ones.
//
// # Configuration Layers
//
//  1. Default Configuration (embedded in binary)
//  2. User Configuration (~/.config/tunnelctl/config.yaml)
//  3. Project Configuration (./.tunnelctl/config.yaml)
//  4. Environment: SAUCE_USERNAME, SAUCE_ACCESS_KEY, TUNNELCTL_BINARY
//
// LoadConfigFromPath replaces layers 2 and 3 with a single directory.
//
// # Configuration Structure
//
//	tunnel:
//	  generation: process          # or "ssh" for the legacy in-process tunnel
//	  binaryPath: sc
//	  options: "--no-ssl-bump-domains all"
//	  readinessToken: "Sauce Connect is up"
//	  readinessTimeout: 2m
//	  maxRetries: 2
//	  retryWait: 5s
//
//	ssh:
//	  endpoint: tunnel.example.com:443
//	  connectTimeout: 30s
//
//	server:
//	  host: localhost
//	  port: 8099
//
// Zero values in a layer never override a value set by an earlier layer, so
// boolean switches can be turned on by a layer but not off again.
package config
