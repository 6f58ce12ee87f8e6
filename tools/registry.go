// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Binding resolution happens once, in Add
// - Invocation never fails outward: errors become text results

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/richinex/agentdock/internal/lenient"
	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/llm"
)

// Registry is the per-conversation dispatch table keyed by tool name.
// Adding a name twice replaces the earlier tool (last write wins) while
// keeping its original position in the listing.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string

	httpClient *http.Client
	servers    ServerCaller
	searcher   Searcher
	executor   *Executor
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient sets the client used by HTTP-bound tools.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.httpClient = c }
}

// WithServerCaller enables ServerBinding tools.
func WithServerCaller(c ServerCaller) Option {
	return func(r *Registry) { r.servers = c }
}

// WithSearcher enables RetrievalBinding tools.
func WithSearcher(s Searcher) Option {
	return func(r *Registry) { r.searcher = s }
}

// WithExecutor overrides the default executor.
func WithExecutor(e *Executor) Option {
	return func(r *Registry) { r.executor = e }
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a new empty tool registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:      make(map[string]Tool),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("tools")
	}
	if r.executor == nil {
		r.executor = NewDefaultExecutor().WithLogger(r.logger)
	}
	return r
}

// Add resolves the descriptor's binding and registers it.
// It fails when the binding has no backing implementation in this registry.
func (r *Registry) Add(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if d.Parameters == nil {
		d.Parameters = Object()
	}

	tool, err := r.bind(d)
	if err != nil {
		return fmt.Errorf("tool '%s': %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		r.logger.Debug("tool replaced", "tool", d.Name, "kind", d.Binding.Kind())
	} else {
		r.order = append(r.order, d.Name)
	}
	r.tools[d.Name] = tool
	return nil
}

// AddAll adds descriptors in order, stopping at the first failure.
func (r *Registry) AddAll(descriptors []Descriptor) error {
	for _, d := range descriptors {
		if err := r.Add(d); err != nil {
			return err
		}
	}
	return nil
}

// Register adds an already-built tool.
func (r *Registry) Register(tool Tool) {
	name := tool.Descriptor().Name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

func (r *Registry) bind(d Descriptor) (Tool, error) {
	switch b := d.Binding.(type) {
	case HTTPBinding:
		if b.BaseURL == "" {
			return nil, fmt.Errorf("http binding for %s has no base URL", b.Path)
		}
		return &httpTool{desc: d, binding: b, client: r.httpClient}, nil
	case ServerBinding:
		if r.servers == nil {
			return nil, fmt.Errorf("no tool server client configured")
		}
		return &serverTool{desc: d, binding: b, caller: r.servers}, nil
	case RetrievalBinding:
		if r.searcher == nil {
			return nil, fmt.Errorf("no retrieval searcher configured")
		}
		return &retrievalTool{desc: d, binding: b, searcher: r.searcher}, nil
	case nil:
		return nil, fmt.Errorf("missing binding")
	default:
		return nil, fmt.Errorf("unsupported binding %T", b)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns tool names in first-insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// List returns descriptors in first-insertion order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, r.tools[name].Descriptor())
	}
	return descriptors
}

// Definitions returns the tool list offered to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	descriptors := r.List()
	defs := make([]llm.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters.ToJSONSchema(),
		})
	}
	return defs
}

// Invoke runs the named tool. It never returns an error: unknown names and
// execution failures come back as failed results. Malformed arguments are
// replaced by an empty object and the tool's own validation decides.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		return FailureResultf("unknown tool %q", name)
	}

	decoded, err := DecodeArgs(args)
	if err != nil {
		r.logger.Warn("malformed tool arguments, using empty object", "tool", name, "error", err)
		decoded = map[string]any{}
	}

	return r.executor.Execute(ctx, tool, decoded)
}

// DecodeArgs parses a model-supplied argument object.
// Empty input and JSON null decode to an empty map. Objects wrapped in code
// fences or prose are recovered.
func DecodeArgs(args json.RawMessage) (map[string]any, error) {
	decoded := map[string]any{}
	if len(args) == 0 || string(args) == "null" {
		return decoded, nil
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		recovered, lerr := lenient.Object(args)
		if lerr != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		return recovered, nil
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return decoded, nil
}

// serverTool forwards calls to an external tool server.
type serverTool struct {
	desc    Descriptor
	binding ServerBinding
	caller  ServerCaller
}

func (t *serverTool) Descriptor() Descriptor { return t.desc }

func (t *serverTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	out, err := t.caller.CallTool(ctx, t.binding.Server, t.binding.Tool, args)
	if err != nil {
		return FailureResult(err), nil
	}
	return SuccessResult(out), nil
}
