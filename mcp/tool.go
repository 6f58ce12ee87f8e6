// MCP tool manager - exposes the tools of several servers to one registry.
//
// Information Hiding:
// - Connection lifecycle hidden
// - Server lookup by binding key hidden
// - Unreachable servers skipped, never fatal

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/tools"
)

// ToolManager owns the sessions opened for one conversation.
// The caller must call Close() when done to release resources.
type ToolManager struct {
	mu      sync.RWMutex
	clients map[string]*Client
	tools   []tools.Descriptor
	logger  *slog.Logger
}

// NewToolManager creates an empty manager.
func NewToolManager(l *slog.Logger) *ToolManager {
	if l == nil {
		l = logger.Named("mcp")
	}
	return &ToolManager{
		clients: make(map[string]*Client),
		logger:  l,
	}
}

// DiscoverTools connects to every server and collects their tools. A server
// that cannot be reached or listed is logged and skipped.
func DiscoverTools(ctx context.Context, servers []Server, l *slog.Logger) *ToolManager {
	m := NewToolManager(l)
	for _, server := range servers {
		if err := m.Add(ctx, server); err != nil {
			m.logger.Warn("skipping MCP server",
				"server", server.Name,
				"url", server.URL,
				"transport", server.Transport,
				"error", err)
		}
	}
	return m
}

// Add connects to server and records its tools.
func (m *ToolManager) Add(ctx context.Context, server Server) error {
	c, err := Connect(ctx, server)
	if err != nil {
		return err
	}
	descriptors, err := c.ListTools(ctx)
	if err != nil {
		c.Close()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.clients[server.key()]; ok {
		old.Close()
	}
	m.clients[server.key()] = c
	m.tools = append(m.tools, descriptors...)
	m.logger.Debug("connected to MCP server", "server", server.Name, "tools", len(descriptors))
	return nil
}

// Tools returns the discovered descriptors in discovery order.
func (m *ToolManager) Tools() []tools.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tools.Descriptor, len(m.tools))
	copy(out, m.tools)
	return out
}

// CallTool implements tools.ServerCaller.
func (m *ToolManager) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	m.mu.RLock()
	c, ok := m.clients[server]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("MCP server %q is not connected", server)
	}
	return c.CallTool(ctx, tool, args)
}

// Close closes every session.
func (m *ToolManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for key, c := range m.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.clients, key)
	}
	return firstErr
}

var _ tools.ServerCaller = (*ToolManager)(nil)
