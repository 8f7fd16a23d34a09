// Tool Gateway: MCP servers exposed as eino tools
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/mark3labs/mcp-go/client"
	mcpapi "github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/loomchat/loomchat/pkg/config"
)

// mcpClient is the slice of the MCP client surface the gateway uses.
// *client.Client satisfies it; tests inject fakes.
type mcpClient interface {
	Initialize(ctx context.Context, req mcpapi.InitializeRequest) (*mcpapi.InitializeResult, error)
	ListTools(ctx context.Context, req mcpapi.ListToolsRequest) (*mcpapi.ListToolsResult, error)
	CallTool(ctx context.Context, req mcpapi.CallToolRequest) (*mcpapi.CallToolResult, error)
	Close() error
}

// Gateway owns the configured MCP server connections and turns their tools
// into eino invokable tools, namespaced per server.
type Gateway struct {
	cfg    config.MCPConfig
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]mcpClient

	// connect is swapped in tests.
	connect func(ctx context.Context, name string, srv config.MCPServerConfig) (mcpClient, error)
}

func NewGateway(cfg config.MCPConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]mcpClient),
		connect: dialServer,
	}
}

// Start connects to every enabled server in the background. A server that
// fails to connect is logged and left out; it never blocks startup.
func (g *Gateway) Start(ctx context.Context) {
	for name, srv := range g.cfg.Servers {
		if !srv.Enabled {
			continue
		}
		go func(name string, srv config.MCPServerConfig) {
			c, err := g.connect(ctx, name, srv)
			if err != nil {
				g.logger.Warn("mcp server connect failed", "server", name, "error", err)
				return
			}
			g.mu.Lock()
			g.clients[name] = c
			g.mu.Unlock()
			g.logger.Info("mcp server connected", "server", name, "type", srv.Type)
		}(name, srv)
	}
}

// dialServer builds, starts and initializes one MCP client.
func dialServer(ctx context.Context, name string, srv config.MCPServerConfig) (mcpClient, error) {
	var (
		c   *client.Client
		err error
	)
	switch srv.Type {
	case config.MCPTypeStdio:
		env := os.Environ()
		for k, v := range srv.Env {
			env = append(env, k+"="+v)
		}
		c, err = client.NewStdioMCPClient(srv.Command, env, srv.Args...)
	case config.MCPTypeSSE:
		c, err = client.NewSSEMCPClient(srv.URL)
	case config.MCPTypeHTTP:
		c, err = client.NewStreamableHttpClient(srv.URL)
	default:
		return nil, fmt.Errorf("unknown mcp server type %q", srv.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create mcp client for %s", name)
	}

	// Network transports need an explicit start; stdio starts on creation.
	if srv.Type != config.MCPTypeStdio {
		if err := c.Start(ctx); err != nil {
			return nil, errors.Wrapf(err, "start mcp client for %s", name)
		}
	}

	initReq := mcpapi.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpapi.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpapi.Implementation{Name: "loomchat", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, errors.Wrapf(err, "initialize mcp server %s", name)
	}
	return c, nil
}

// GetTools lists the tools of the selected servers and wraps them as eino
// tools. Unknown, disabled and not-yet-connected server names are skipped
// with a warning; the remaining servers' tools are still returned.
func (g *Gateway) GetTools(ctx context.Context, selected []string) []tool.InvokableTool {
	var out []tool.InvokableTool
	for _, name := range selected {
		g.mu.RLock()
		c, ok := g.clients[name]
		g.mu.RUnlock()
		if !ok {
			g.logger.Warn("mcp server not available, skipping", "server", name)
			continue
		}

		res, err := c.ListTools(ctx, mcpapi.ListToolsRequest{})
		if err != nil {
			g.logger.Warn("mcp list tools failed, skipping server", "server", name, "error", err)
			continue
		}
		for _, t := range res.Tools {
			wrapped, err := newServerTool(name, t, c)
			if err != nil {
				g.logger.Warn("mcp tool schema rejected", "server", name, "tool", t.Name, "error", err)
				continue
			}
			out = append(out, wrapped)
		}
	}
	return out
}

// Servers returns the configured server map for the listing endpoint. Env
// values are excluded from JSON by the config type itself.
func (g *Gateway) Servers() map[string]config.MCPServerConfig {
	out := make(map[string]config.MCPServerConfig, len(g.cfg.Servers))
	for name, srv := range g.cfg.Servers {
		out[name] = srv
	}
	return out
}

// Close shuts down all connected clients.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, c := range g.clients {
		if err := c.Close(); err != nil {
			g.logger.Warn("mcp client close failed", "server", name, "error", err)
		}
		delete(g.clients, name)
	}
}
