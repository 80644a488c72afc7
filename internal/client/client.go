// Package client talks to a running tunnelctl daemon over MCP.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"tunnelctl/internal/server"
)

// ErrToolFailed is returned when the daemon reports a tool error.
var ErrToolFailed = errors.New("daemon reported an error")

// Endpoint returns the SSE URL of a daemon listening on host:port.
func Endpoint(host string, port int) string {
	return fmt.Sprintf("http://%s:%d/sse", host, port)
}

// OpenArgs are the tunnel_open arguments. Empty fields use the daemon defaults.
type OpenArgs struct {
	Key       string
	Options   string
	Username  string
	AccessKey string
	Verbose   bool
}

// Client is a connected session with the daemon.
type Client struct {
	endpoint string
	mcp      *mcpclient.Client
}

// Dial connects to the daemon and performs the MCP handshake.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	sseClient, err := mcpclient.NewSSEMCPClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE client: %w", err)
	}
	// The SSE stream lives until Close and must not inherit the dial deadline
	if err := sseClient.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = "2024-11-05"
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "tunnelctl-client",
		Version: "1.0.0",
	}
	if _, err := sseClient.Initialize(ctx, req); err != nil {
		sseClient.Close()
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	return &Client{endpoint: endpoint, mcp: sseClient}, nil
}

func (c *Client) Close() error {
	return c.mcp.Close()
}

// Open asks the daemon to open and register a tunnel.
func (c *Client) Open(ctx context.Context, args OpenArgs) (*server.OpenResult, error) {
	params := map[string]interface{}{"key": args.Key}
	if args.Options != "" {
		params["options"] = args.Options
	}
	if args.Username != "" {
		params["username"] = args.Username
	}
	if args.AccessKey != "" {
		params["access_key"] = args.AccessKey
	}
	if args.Verbose {
		params["verbose"] = true
	}

	text, err := c.call(ctx, server.ToolOpen, params)
	if err != nil {
		return nil, err
	}
	var result server.OpenResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("unexpected %s response: %w", server.ToolOpen, err)
	}
	return &result, nil
}

// CloseKey closes every tunnel registered under key and returns the daemon's summary.
func (c *Client) CloseKey(ctx context.Context, key string) (string, error) {
	return c.call(ctx, server.ToolClose, map[string]interface{}{"key": key})
}

// List returns the registered tunnels grouped by key.
func (c *Client) List(ctx context.Context) ([]server.KeyTunnels, error) {
	text, err := c.call(ctx, server.ToolList, map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var result []server.KeyTunnels
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("unexpected %s response: %w", server.ToolList, err)
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.mcp.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	text := textOf(result)
	if result.IsError {
		return "", fmt.Errorf("%w: %s", ErrToolFailed, text)
	}
	return text, nil
}

func textOf(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
