package mcp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newToolServer() *server.MCPServer {
	s := server.NewMCPServer("test-tools", "1.0.0", server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the input"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
		mcp.WithNumber("times", mcp.Description("Ignored")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, _ := req.GetArguments()["text"].(string)
		return mcp.NewToolResultText("echo: " + text), nil
	})

	s.AddTool(mcp.NewTool("explode",
		mcp.WithDescription("Always fails"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("kaboom"), nil
	})
	return s
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestValidateTransport(t *testing.T) {
	assert.NoError(t, ValidateTransport("sse"))
	assert.NoError(t, ValidateTransport("http"))
	for _, bad := range []string{"", "stdio", "HTTP", "websocket"} {
		assert.ErrorIs(t, ValidateTransport(bad), ErrUnsupportedTransport, bad)
	}
}

func TestConnectRejectsUnsupportedTransport(t *testing.T) {
	_, err := Connect(context.Background(), Server{Name: "x", Transport: "stdio", URL: "ignored"})
	assert.ErrorIs(t, err, ErrUnsupportedTransport)
}

func assertDiscovered(t *testing.T, m *ToolManager, key string) {
	t.Helper()
	descs := m.Tools()
	require.Len(t, descs, 2)

	byName := map[string]tools.Descriptor{}
	for _, d := range descs {
		byName[d.Name] = d
	}
	echo, ok := byName["echo"]
	require.True(t, ok)
	assert.Equal(t, "Echo the input", echo.Description)
	assert.Equal(t, tools.ServerBinding{Server: key, Tool: "echo"}, echo.Binding)
	require.Contains(t, echo.Parameters.Properties, "text")
	assert.True(t, echo.Parameters.IsRequired("text"))
	assert.Equal(t, tools.KindNumber, echo.Parameters.Properties["times"].Kind)
}

func TestSSEServer(t *testing.T) {
	ts := server.NewTestServer(newToolServer())
	defer ts.Close()

	ctx := testCtx(t)
	m := DiscoverTools(ctx, []Server{{Key: "srv-1", Name: "tools", Transport: TransportSSE, URL: ts.URL + "/sse"}}, logger.Discard())
	defer m.Close()

	assertDiscovered(t, m, "srv-1")

	out, err := m.CallTool(ctx, "srv-1", "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)

	_, err = m.CallTool(ctx, "srv-1", "explode", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestStreamableHTTPServer(t *testing.T) {
	ts := httptest.NewServer(server.NewStreamableHTTPServer(newToolServer()))
	defer ts.Close()

	ctx := testCtx(t)
	m := DiscoverTools(ctx, []Server{{Name: "tools", Transport: TransportHTTP, URL: ts.URL + "/mcp"}}, logger.Discard())
	defer m.Close()

	assertDiscovered(t, m, "tools")

	out, err := m.CallTool(ctx, "tools", "echo", map[string]any{"text": "over http"})
	require.NoError(t, err)
	assert.Equal(t, "echo: over http", out)
}

func TestUnreachableServerIsSkipped(t *testing.T) {
	ts := httptest.NewServer(server.NewStreamableHTTPServer(newToolServer()))
	defer ts.Close()

	ctx := testCtx(t)
	m := DiscoverTools(ctx, []Server{
		{Name: "down", Transport: TransportHTTP, URL: "http://127.0.0.1:1/mcp"},
		{Name: "up", Transport: TransportHTTP, URL: ts.URL + "/mcp"},
	}, logger.Discard())
	defer m.Close()

	assert.Len(t, m.Tools(), 2)
	_, err := m.CallTool(ctx, "down", "echo", nil)
	assert.Error(t, err)
}

func TestRegistryDispatchesToServer(t *testing.T) {
	ts := httptest.NewServer(server.NewStreamableHTTPServer(newToolServer()))
	defer ts.Close()

	ctx := testCtx(t)
	m := DiscoverTools(ctx, []Server{{Name: "tools", Transport: TransportHTTP, URL: ts.URL + "/mcp"}}, logger.Discard())
	defer m.Close()

	reg := tools.NewRegistry(tools.WithServerCaller(m), tools.WithLogger(logger.Discard()))
	require.NoError(t, reg.AddAll(m.Tools()))

	res := reg.Invoke(ctx, "echo", json.RawMessage(`{"text":"via registry"}`))
	assert.True(t, res.Success())
	assert.Equal(t, "echo: via registry", res.Content())

	res = reg.Invoke(ctx, "explode", json.RawMessage(`{}`))
	assert.False(t, res.Success())
	assert.Contains(t, res.Content(), "Error: ")
	assert.Contains(t, res.Content(), "kaboom")
}
