// Agent configuration types.
//
// Information Hiding:
// - Default values hidden
// - System prompt assembly hidden

package agent

import "strings"

// DefaultSystemPrompt is the base prompt every agent starts from.
const DefaultSystemPrompt = `You are a helpful assistant that can answer the user's question using the tools provided.

Rules:
- Only use the tools provided to answer the user's question. You do not have access to external knowledge.
- You can use more than one tool to answer the user's question.
- Use the doc_search tool only if you don't have enough information to answer using any other tool.
- Always use the doc_search tool before telling the user that you don't have enough information to answer.
- If no tool can answer the question, say that you don't have enough information to answer it.
- Be concise and provide accurate information.`

// Config holds runner configuration.
// Following Dave's naming advice: use agent.Config, not agent.AgentConfig.
type Config struct {
	// SystemPrompt replaces DefaultSystemPrompt when set.
	SystemPrompt string

	// MaxIterations caps model calls per run. Zero means no cap.
	MaxIterations int

	// ToolConcurrency limits parallel tool calls per batch.
	// Zero runs the whole batch at once.
	ToolConcurrency int
}

// DefaultConfig returns a configuration with no iteration cap.
func DefaultConfig() Config {
	return Config{SystemPrompt: DefaultSystemPrompt}
}

// systemPrompt joins the base prompt and per-agent instructions.
func (c Config) systemPrompt(instructions string) string {
	base := c.SystemPrompt
	if base == "" {
		base = DefaultSystemPrompt
	}
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return base
	}
	return base + "\n\nAgent instructions:\n" + instructions
}

// concurrency returns the errgroup limit for a batch of n calls.
func (c Config) concurrency(n int) int {
	if c.ToolConcurrency > 0 && c.ToolConcurrency < n {
		return c.ToolConcurrency
	}
	return n
}
