// Toolset builder for per-conversation tool registries.
//
// Information Hiding:
// - Construction order (OpenAPI, then MCP, then retrieval) hidden
// - MCP session lifetime hidden behind Toolset.Close

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/mcp"
	"github.com/richinex/agentdock/openapi"
	"github.com/richinex/agentdock/storage"
	"github.com/richinex/agentdock/tools"
)

// Builder collects an agent's capabilities and resolves them into a registry.
// Usage: agent.NewBuilder(agentID).OpenAPI(apis...).MCP(servers...).Build(ctx)
type Builder struct {
	agentID    string
	openapis   []storage.OpenAPIIntegration
	servers    []storage.MCPIntegration
	searcher   tools.Searcher
	topK       int
	httpClient *http.Client
	executor   *tools.Executor
	logger     *slog.Logger
}

// NewBuilder creates a builder for the given agent.
func NewBuilder(agentID string) *Builder {
	return &Builder{agentID: agentID}
}

// OpenAPI adds translated OpenAPI integrations.
func (b *Builder) OpenAPI(integrations ...storage.OpenAPIIntegration) *Builder {
	b.openapis = append(b.openapis, integrations...)
	return b
}

// MCP adds tool servers to discover.
func (b *Builder) MCP(integrations ...storage.MCPIntegration) *Builder {
	b.servers = append(b.servers, integrations...)
	return b
}

// Retrieval enables the document search tool. k <= 0 uses the searcher's default.
func (b *Builder) Retrieval(searcher tools.Searcher, k int) *Builder {
	b.searcher = searcher
	b.topK = k
	return b
}

// HTTPClient sets the client for OpenAPI tools.
func (b *Builder) HTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// Executor sets the tool executor.
func (b *Builder) Executor(e *tools.Executor) *Builder {
	b.executor = e
	return b
}

// Logger sets the logger used by the registry and MCP sessions.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Toolset is a built registry plus the sessions it depends on.
type Toolset struct {
	Registry *tools.Registry
	servers  *mcp.ToolManager
}

// Close releases MCP sessions.
func (t *Toolset) Close() error {
	if t == nil || t.servers == nil {
		return nil
	}
	return t.servers.Close()
}

// Build connects to the MCP servers and registers every tool. Names that
// collide are resolved last-write-wins in order OpenAPI, MCP, retrieval.
// Unreachable MCP servers are skipped.
func (b *Builder) Build(ctx context.Context) (*Toolset, error) {
	l := b.logger
	if l == nil {
		l = logger.Named("tools")
	}

	servers := make([]mcp.Server, 0, len(b.servers))
	for _, s := range b.servers {
		servers = append(servers, mcp.Server{Key: s.ID, Name: s.Name, Transport: s.Transport, URL: s.URL})
	}
	manager := mcp.DiscoverTools(ctx, servers, l)

	opts := []tools.Option{tools.WithServerCaller(manager), tools.WithLogger(l)}
	if b.httpClient != nil {
		opts = append(opts, tools.WithHTTPClient(b.httpClient))
	}
	if b.executor != nil {
		opts = append(opts, tools.WithExecutor(b.executor))
	}
	if b.searcher != nil {
		opts = append(opts, tools.WithSearcher(b.searcher))
	}
	registry := tools.NewRegistry(opts...)

	for _, api := range b.openapis {
		if err := registry.AddAll(openapi.Bind(api.Tools, api.APIURL)); err != nil {
			manager.Close()
			return nil, fmt.Errorf("openapi integration %q: %w", api.Name, err)
		}
	}
	if err := registry.AddAll(manager.Tools()); err != nil {
		manager.Close()
		return nil, fmt.Errorf("mcp tools: %w", err)
	}
	if b.searcher != nil {
		if err := registry.Add(tools.RetrievalDescriptor(b.agentID, b.topK)); err != nil {
			manager.Close()
			return nil, err
		}
	}

	l.Debug("toolset built", "agent_id", b.agentID, "tools", registry.Len())
	return &Toolset{Registry: registry, servers: manager}, nil
}
