package mcp

import (
	"context"
	"log/slog"
	"testing"
	"time"

	mcpapi "github.com/mark3labs/mcp-go/mcp"

	"github.com/loomchat/loomchat/pkg/config"
)

type fakeClient struct {
	tools      []mcpapi.Tool
	lastCalled string
	callResult *mcpapi.CallToolResult
	closed     bool
}

func (f *fakeClient) Initialize(ctx context.Context, req mcpapi.InitializeRequest) (*mcpapi.InitializeResult, error) {
	return &mcpapi.InitializeResult{}, nil
}

func (f *fakeClient) ListTools(ctx context.Context, req mcpapi.ListToolsRequest) (*mcpapi.ListToolsResult, error) {
	return &mcpapi.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeClient) CallTool(ctx context.Context, req mcpapi.CallToolRequest) (*mcpapi.CallToolResult, error) {
	f.lastCalled = req.Params.Name
	if f.callResult != nil {
		return f.callResult, nil
	}
	return &mcpapi.CallToolResult{
		Content: []mcpapi.Content{mcpapi.TextContent{Type: "text", Text: "ok"}},
	}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func readTool() mcpapi.Tool {
	return mcpapi.Tool{
		Name:        "read_file",
		Description: "Read a file",
		InputSchema: mcpapi.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "file path"},
			},
			Required: []string{"path"},
		},
	}
}

func newTestGateway(t *testing.T, servers map[string]config.MCPServerConfig, clients map[string]*fakeClient) *Gateway {
	t.Helper()
	g := NewGateway(config.MCPConfig{Servers: servers}, slog.Default())
	g.connect = func(ctx context.Context, name string, srv config.MCPServerConfig) (mcpClient, error) {
		return clients[name], nil
	}
	return g
}

func waitForClients(t *testing.T, g *Gateway, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.RLock()
		n := len(g.clients)
		g.mu.RUnlock()
		if n == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gateway never reached %d connected clients", want)
}

func TestGetTools_NamespacesByServer(t *testing.T) {
	fake := &fakeClient{tools: []mcpapi.Tool{readTool()}}
	g := newTestGateway(t,
		map[string]config.MCPServerConfig{
			"files": {Type: config.MCPTypeStdio, Command: "mcp-files", Enabled: true},
		},
		map[string]*fakeClient{"files": fake},
	)
	g.Start(context.Background())
	waitForClients(t, g, 1)

	tools := g.GetTools(context.Background(), []string{"files"})
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	info, err := tools[0].Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "files__read_file" {
		t.Fatalf("tool name = %q, want files__read_file", info.Name)
	}
}

func TestGetTools_UnknownServerSkipped(t *testing.T) {
	fake := &fakeClient{tools: []mcpapi.Tool{readTool()}}
	g := newTestGateway(t,
		map[string]config.MCPServerConfig{
			"files": {Type: config.MCPTypeStdio, Command: "mcp-files", Enabled: true},
		},
		map[string]*fakeClient{"files": fake},
	)
	g.Start(context.Background())
	waitForClients(t, g, 1)

	// A request naming a server that was never configured still yields the
	// known server's tools.
	tools := g.GetTools(context.Background(), []string{"nonexistent", "files"})
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
}

func TestStart_DisabledServerNotConnected(t *testing.T) {
	g := newTestGateway(t,
		map[string]config.MCPServerConfig{
			"files": {Type: config.MCPTypeStdio, Command: "mcp-files", Enabled: false},
		},
		map[string]*fakeClient{"files": {}},
	)
	g.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	if tools := g.GetTools(context.Background(), []string{"files"}); len(tools) != 0 {
		t.Fatalf("disabled server produced %d tools", len(tools))
	}
}

func TestInvokableRun_RoutesToRemoteName(t *testing.T) {
	fake := &fakeClient{tools: []mcpapi.Tool{readTool()}}
	st, err := newServerTool("files", readTool(), fake)
	if err != nil {
		t.Fatal(err)
	}

	out, err := st.InvokableRun(context.Background(), `{"path":"/tmp/a"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Fatalf("output = %q, want ok", out)
	}
	// The server sees the original tool name, not the namespaced one.
	if fake.lastCalled != "read_file" {
		t.Fatalf("remote tool name = %q, want read_file", fake.lastCalled)
	}
}

func TestInvokableRun_ToolErrorReturnedAsText(t *testing.T) {
	fake := &fakeClient{
		callResult: &mcpapi.CallToolResult{
			IsError: true,
			Content: []mcpapi.Content{mcpapi.TextContent{Type: "text", Text: "no such file"}},
		},
	}
	st, err := newServerTool("files", readTool(), fake)
	if err != nil {
		t.Fatal(err)
	}

	out, err := st.InvokableRun(context.Background(), `{"path":"/missing"}`)
	if err != nil {
		t.Fatalf("tool-level error should not fail the call: %v", err)
	}
	if out != "Error: no such file" {
		t.Fatalf("output = %q", out)
	}
}

func TestParseToolName(t *testing.T) {
	key, ok := ParseToolName("files__read_file")
	if !ok || key.Server != "files" || key.Tool != "read_file" {
		t.Fatalf("ParseToolName = %+v, %v", key, ok)
	}
	if _, ok := ParseToolName("plain"); ok {
		t.Fatal("name without prefix should not parse")
	}
}

func TestClose_ShutsDownClients(t *testing.T) {
	fake := &fakeClient{}
	g := newTestGateway(t,
		map[string]config.MCPServerConfig{
			"files": {Type: config.MCPTypeStdio, Command: "mcp-files", Enabled: true},
		},
		map[string]*fakeClient{"files": fake},
	)
	g.Start(context.Background())
	waitForClients(t, g, 1)

	g.Close()
	if !fake.closed {
		t.Fatal("client not closed")
	}
}
