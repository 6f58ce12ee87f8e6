// Package mcp connects to external Model Context Protocol tool servers.
//
// Information Hiding:
// - Transport selection (SSE, streamable HTTP) hidden
// - Session handshake hidden behind Connect
// - Result content flattening hidden

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/richinex/agentdock/tools"
)

// Supported transports.
const (
	TransportSSE  = "sse"
	TransportHTTP = "http"
)

// ErrUnsupportedTransport is returned for any transport other than sse or http.
var ErrUnsupportedTransport = errors.New("unsupported MCP transport")

// ValidateTransport accepts exactly "sse" and "http".
func ValidateTransport(kind string) error {
	switch kind {
	case TransportSSE, TransportHTTP:
		return nil
	default:
		return fmt.Errorf("%w %q: must be %q or %q", ErrUnsupportedTransport, kind, TransportSSE, TransportHTTP)
	}
}

// Server identifies one MCP endpoint. Key defaults to Name.
type Server struct {
	Key       string
	Name      string
	Transport string
	URL       string
}

func (s Server) key() string {
	if s.Key != "" {
		return s.Key
	}
	return s.Name
}

// Client is an initialised session with one server.
type Client struct {
	server Server
	inner  *client.Client
}

// Connect opens a session with the server and performs the MCP handshake.
func Connect(ctx context.Context, server Server) (*Client, error) {
	if err := ValidateTransport(server.Transport); err != nil {
		return nil, err
	}

	var (
		inner *client.Client
		err   error
	)
	switch server.Transport {
	case TransportSSE:
		inner, err = client.NewSSEMCPClient(server.URL)
	case TransportHTTP:
		inner, err = client.NewStreamableHttpClient(server.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := inner.Start(ctx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "agentdock",
		Version: "0.1.0",
	}
	if _, err := inner.Initialize(ctx, initReq); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	return &Client{server: server, inner: inner}, nil
}

// ListTools returns descriptors for every tool the server offers, bound to
// this server.
func (c *Client) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	resp, err := c.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	descriptors := make([]tools.Descriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		params, err := inputSchema(t)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		descriptors = append(descriptors, tools.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			Binding:     tools.ServerBinding{Server: c.server.key(), Tool: t.Name},
		})
	}
	return descriptors, nil
}

// CallTool invokes a tool and flattens its text content. A result flagged as
// an error is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	text := resultText(resp)
	if resp.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.inner.Close()
}

func resultText(resp *mcp.CallToolResult) string {
	var parts []string
	for _, content := range resp.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// inputSchema converts a tool's input schema. Raw schemas take precedence
// over the structured form.
func inputSchema(t mcp.Tool) (*tools.Schema, error) {
	raw := map[string]any{}
	if len(t.RawInputSchema) > 0 {
		if err := json.Unmarshal(t.RawInputSchema, &raw); err != nil {
			return nil, fmt.Errorf("invalid input schema: %w", err)
		}
	} else {
		raw["type"] = "object"
		if len(t.InputSchema.Properties) > 0 {
			raw["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			required := make([]any, len(t.InputSchema.Required))
			for i, r := range t.InputSchema.Required {
				required[i] = r
			}
			raw["required"] = required
		}
	}
	if _, ok := raw["type"]; !ok {
		raw["type"] = "object"
	}
	if s, err := tools.ParseSchema(raw); err == nil {
		return s, nil
	}
	return lenientObject(raw), nil
}

// lenientObject keeps every property it can parse and degrades the rest to
// strings.
func lenientObject(raw map[string]any) *tools.Schema {
	s := tools.Object()
	props, _ := raw["properties"].(map[string]any)
	required := map[string]bool{}
	if list, ok := raw["required"].([]any); ok {
		for _, r := range list {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}
	for name, p := range props {
		pm, _ := p.(map[string]any)
		prop, err := tools.ParseSchema(pm)
		if err != nil {
			desc, _ := pm["description"].(string)
			prop = tools.Leaf(tools.KindString, desc)
		}
		s.Set(name, prop, required[name])
	}
	return s
}
