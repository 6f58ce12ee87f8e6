// Package tools provides the tool descriptors, bindings and dispatch table
// used by the orchestration loop.
//
// Information Hiding:
// - How a descriptor's binding is executed is hidden behind Tool
// - Bindings are a closed set resolved once when a descriptor is added
// - Error handling internalized: invocation failures become text results,
//   except those wrapping ErrFatal
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrFatal marks a tool failure that must end the run instead of being
// handed back to the model, such as the embedding service being down.
var ErrFatal = errors.New("fatal tool failure")

// Binding says how a tool is executed. The set of bindings is closed:
// HTTPBinding, ServerBinding and RetrievalBinding.
type Binding interface {
	// Kind names the binding ("http", "mcp", "retrieval").
	Kind() string
	sealed()
}

// HTTPBinding issues a GET to BaseURL+Path with the arguments as query parameters.
type HTTPBinding struct {
	BaseURL string `json:"base_url,omitempty"`
	Path    string `json:"path"`
}

// ServerBinding forwards the call to a tool on an external tool server.
type ServerBinding struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
}

// RetrievalBinding searches an agent's documents. TopK <= 0 uses the searcher's default.
type RetrievalBinding struct {
	AgentID string `json:"agent_id"`
	TopK    int    `json:"top_k,omitempty"`
}

func (HTTPBinding) Kind() string      { return "http" }
func (ServerBinding) Kind() string    { return "mcp" }
func (RetrievalBinding) Kind() string { return "retrieval" }

func (HTTPBinding) sealed()      {}
func (ServerBinding) sealed()    {}
func (RetrievalBinding) sealed() {}

// Descriptor describes one callable tool.
type Descriptor struct {
	Name        string
	Description string
	Parameters  *Schema
	Binding     Binding
}

// String returns a string representation of the descriptor.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s: %s", d.Name, d.Description)
}

type descriptorJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  *Schema         `json:"parameters"`
	Binding     json.RawMessage `json:"binding"`
	Kind        string          `json:"kind"`
}

// MarshalJSON stores the binding alongside its kind.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	if d.Binding == nil {
		return nil, fmt.Errorf("tool %q has no binding", d.Name)
	}
	binding, err := json.Marshal(d.Binding)
	if err != nil {
		return nil, err
	}
	params := d.Parameters
	if params == nil {
		params = Object()
	}
	return json.Marshal(descriptorJSON{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
		Binding:     binding,
		Kind:        d.Binding.Kind(),
	})
}

// UnmarshalJSON restores a descriptor written by MarshalJSON.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var raw descriptorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var binding Binding
	switch raw.Kind {
	case "http":
		var b HTTPBinding
		if err := json.Unmarshal(raw.Binding, &b); err != nil {
			return fmt.Errorf("http binding: %w", err)
		}
		binding = b
	case "mcp":
		var b ServerBinding
		if err := json.Unmarshal(raw.Binding, &b); err != nil {
			return fmt.Errorf("mcp binding: %w", err)
		}
		binding = b
	case "retrieval":
		var b RetrievalBinding
		if err := json.Unmarshal(raw.Binding, &b); err != nil {
			return fmt.Errorf("retrieval binding: %w", err)
		}
		binding = b
	default:
		return fmt.Errorf("unknown binding kind %q", raw.Kind)
	}

	*d = Descriptor{
		Name:        raw.Name,
		Description: raw.Description,
		Parameters:  raw.Parameters,
		Binding:     binding,
	}
	if d.Parameters == nil {
		d.Parameters = Object()
	}
	return nil
}

// ToolResult represents the result of a tool execution.
// Success is determined by whether Error is nil.
type ToolResult struct {
	Output string `json:"output"`
	Error  error  `json:"-"`
}

// Success returns true if the tool execution succeeded.
func (t ToolResult) Success() bool {
	return t.Error == nil
}

// Content is the text handed back to the model.
func (t ToolResult) Content() string {
	if t.Error != nil {
		return "Error: " + t.Error.Error()
	}
	return t.Output
}

// SuccessResult creates a successful tool result.
func SuccessResult(output string) ToolResult {
	return ToolResult{Output: output}
}

// FailureResult creates a failed tool result.
func FailureResult(err error) ToolResult {
	return ToolResult{Error: err}
}

// FailureResultf creates a failed tool result with a formatted error message.
func FailureResultf(format string, args ...interface{}) ToolResult {
	return ToolResult{Error: fmt.Errorf(format, args...)}
}

// Tool is a descriptor resolved to something that can run.
type Tool interface {
	// Descriptor returns the tool's description and binding.
	Descriptor() Descriptor

	// Execute runs the tool with already-decoded arguments.
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ServerCaller calls a tool on an external tool server.
type ServerCaller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
}

// Searcher answers retrieval queries for an agent.
type Searcher interface {
	Search(ctx context.Context, agentID, query string, k int) (string, error)
}

// ToolConfig holds tool execution configuration.
// The zero value is safe: timeout defaults to 60s.
type ToolConfig struct {
	TimeoutSecs uint64
	NoTimeout   bool // Disable the per-invocation deadline
}

// Timeout returns the configured timeout in seconds, defaulting to 60 if zero.
// It returns 0 when timeouts are disabled.
func (c *ToolConfig) Timeout() uint64 {
	if c == nil {
		return 60
	}
	if c.NoTimeout {
		return 0
	}
	if c.TimeoutSecs == 0 {
		return 60
	}
	return c.TimeoutSecs
}

// ToolConfigFor converts a duration into executor settings. Zero disables
// the deadline; sub-second values round up to one second.
func ToolConfigFor(timeout time.Duration) ToolConfig {
	if timeout <= 0 {
		return ToolConfig{NoTimeout: true}
	}
	return ToolConfig{TimeoutSecs: uint64((timeout + time.Second - 1) / time.Second)}
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{TimeoutSecs: 60}
}
