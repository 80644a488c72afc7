package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"tunnelctl/internal/client"
	"tunnelctl/internal/config"
)

const dialTimeout = 10 * time.Second

// Output formats of the daemon client commands.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var daemonEndpoint string

// resolveEndpoint returns --endpoint, or the SSE URL of the configured daemon.
func resolveEndpoint() (string, error) {
	if daemonEndpoint != "" {
		return daemonEndpoint, nil
	}

	var cfg config.TunnelctlConfig
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfigFromPath(configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	return client.Endpoint(cfg.Server.Host, cfg.Server.Port), nil
}

// withDaemon dials the daemon, runs fn and closes the session.
func withDaemon(ctx context.Context, fn func(ctx context.Context, c *client.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint, err := resolveEndpoint()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, err := client.Dial(dialCtx, endpoint)
	if err != nil {
		return fmt.Errorf("is the daemon running? (start it with 'tunnelctl serve'): %w", err)
	}
	defer c.Close()

	return fn(ctx, c)
}

// writeStructured renders v as JSON or YAML.
func writeStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		// Round-trip through JSON so YAML keys match the JSON field names
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unsupported output format %q (expected %s, %s or %s)", format, outputTable, outputJSON, outputYAML)
	}
}
