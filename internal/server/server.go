// Package server runs the host daemon: one shared tunnel.Manager exposed to
// local builds as MCP tools over SSE.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"tunnelctl/internal/buildwrap"
	"tunnelctl/internal/tunnel"
	"tunnelctl/pkg/logging"
)

// Tool names served by the daemon.
const (
	ToolOpen  = "tunnel_open"
	ToolClose = "tunnel_close"
	ToolList  = "tunnel_list"
)

const (
	serverName    = "tunnelctl"
	sseEndpoint   = "/sse"
	msgEndpoint   = "/message"
	keepAlive     = 30 * time.Second
	shutdownGrace = 5 * time.Second
)

// Config configures the daemon.
type Config struct {
	Host    string
	Port    int
	Version string
	// Build holds the defaults for every tunnel_open call; requests may
	// override credentials and verbosity.
	Build buildwrap.Options
}

// OpenResult is the payload of a successful tunnel_open call.
type OpenResult struct {
	Key         string            `json:"key"`
	Tunnel      tunnel.Info       `json:"tunnel"`
	Environment map[string]string `json:"environment"`
}

// KeyTunnels is one entry of the tunnel_list payload.
type KeyTunnels struct {
	Key     string        `json:"key"`
	Tunnels []tunnel.Info `json:"tunnels"`
}

// TunnelServer serves the tunnel tools for a single Manager.
type TunnelServer struct {
	cfg     Config
	manager tunnel.Manager

	mcpServer *server.MCPServer

	mu        sync.Mutex
	sseServer *server.SSEServer
}

func New(manager tunnel.Manager, cfg Config) *TunnelServer {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &TunnelServer{cfg: cfg, manager: manager}
	s.mcpServer = server.NewMCPServer(
		serverName,
		cfg.Version,
		server.WithToolCapabilities(true),
	)
	s.mcpServer.AddTools(s.Tools()...)
	return s
}

// Tools returns the tool definitions bound to their handlers.
func (s *TunnelServer) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(ToolOpen,
				mcp.WithDescription("Open a tunnel for a build and register it under the build key"),
				mcp.WithString("key",
					mcp.Required(),
					mcp.Description("Build or plan identifier that owns the tunnel"),
				),
				mcp.WithString("options",
					mcp.Description("Extra tunnel options appended to the host options"),
				),
				mcp.WithString("username",
					mcp.Description("Overrides the host username"),
				),
				mcp.WithString("access_key",
					mcp.Description("Overrides the host access key"),
				),
				mcp.WithBoolean("verbose",
					mcp.Description("Run the tunnel binary with verbose logging"),
				),
			),
			Handler: s.handleOpen,
		},
		{
			Tool: mcp.NewTool(ToolClose,
				mcp.WithDescription("Close every tunnel registered under a build key"),
				mcp.WithString("key",
					mcp.Required(),
					mcp.Description("Build or plan identifier"),
				),
			),
			Handler: s.handleClose,
		},
		{
			Tool: mcp.NewTool(ToolList,
				mcp.WithDescription("List registered tunnels grouped by build key"),
			),
			Handler: s.handleList,
		},
	}
}

// Start serves SSE on the configured address in the background.
func (s *TunnelServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sseServer != nil {
		return fmt.Errorf("server already started")
	}

	baseURL := fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
	sseServer := server.NewSSEServer(
		s.mcpServer,
		server.WithBaseURL(baseURL),
		server.WithSSEEndpoint(sseEndpoint),
		server.WithMessageEndpoint(msgEndpoint),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(keepAlive),
	)
	s.sseServer = sseServer

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	logging.Info("Server", "Serving tunnel tools on %s%s", baseURL, sseEndpoint)
	go func() {
		if err := sseServer.Start(addr); err != nil && err != http.ErrServerClosed {
			logging.Error("Server", err, "SSE server error")
		}
	}()
	return nil
}

// Stop shuts the SSE server down and closes every registered tunnel.
func (s *TunnelServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	sseServer := s.sseServer
	s.sseServer = nil
	s.mu.Unlock()

	var err error
	if sseServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
		if err = sseServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("Server", err, "Error shutting down SSE server")
		}
	}

	logging.Info("Server", "Closing all tunnels")
	s.manager.CloseAll()
	return err
}

func (s *TunnelServer) handleOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}

	opts := s.cfg.Build
	opts.Credentials.Username = req.GetString("username", opts.Credentials.Username)
	opts.Credentials.AccessKey = req.GetString("access_key", opts.Credentials.AccessKey)
	opts.Verbose = req.GetBool("verbose", opts.Verbose)

	wrapper := buildwrap.New(s.manager, opts)
	t, env, err := wrapper.Open(ctx, key, req.GetString("options", ""), logging.NewLineWriter(logging.LevelInfo, "Build:"+key))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open tunnel for %s: %v", key, err)), nil
	}
	return jsonResult(OpenResult{Key: key, Tunnel: t.Info(), Environment: env})
}

func (s *TunnelServer) handleClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}

	closed := len(s.manager.TunnelMap()[key])
	s.manager.CloseTunnelsForPlan(key)
	return mcp.NewToolResultText(fmt.Sprintf("Closed %d tunnel(s) for '%s'", closed, key)), nil
}

func (s *TunnelServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(Snapshot(s.manager))
}

// Snapshot describes the manager's tunnels sorted by key.
func Snapshot(m tunnel.Manager) []KeyTunnels {
	tunnels := m.TunnelMap()
	keys := make([]string, 0, len(tunnels))
	for k := range tunnels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]KeyTunnels, 0, len(keys))
	for _, k := range keys {
		entry := KeyTunnels{Key: k, Tunnels: make([]tunnel.Info, 0, len(tunnels[k]))}
		for _, t := range tunnels[k] {
			entry.Tunnels = append(entry.Tunnels, t.Info())
		}
		out = append(out, entry)
	}
	return out
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
