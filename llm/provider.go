// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion, including tool calls
// - Assembly of streamed deltas into a complete response

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for tool-aware chat completions.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// ChatWithTools sends a chat completion request with tool definitions.
	// The LLM may respond with tool calls in LLMResponse.ToolCalls.
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error)

	// StreamWithTools streams a chat completion. Text deltas are sent to chunks
	// in the order the provider produced them; the channel is not closed.
	// The returned response holds the full text and every tool call.
	StreamWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, chunks chan<- string) (LLMResponse, error)
}

// send delivers a delta unless the context ends first.
func send(ctx context.Context, chunks chan<- string, text string) error {
	if text == "" || chunks == nil {
		return nil
	}
	select {
	case chunks <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
