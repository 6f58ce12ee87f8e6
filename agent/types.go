// Orchestration run types.
//
// Information Hiding:
// - Loop state names hidden behind State
// - Conversation assembly hidden behind Request

package agent

import (
	"errors"

	"github.com/richinex/agentdock/llm"
)

// ErrMaxIterations is returned when a run exceeds its configured cap.
var ErrMaxIterations = errors.New("maximum iterations reached")

// State is a position in the orchestration loop.
type State string

const (
	StateAwaitingModel State = "awaiting_model"
	StateModelEmitting State = "model_emitting"
	StateInvokingTools State = "invoking_tools"
	StateTerminal      State = "terminal"
)

// Request is one user turn.
type Request struct {
	// AgentID scopes the run for logging.
	AgentID string

	// Instructions are appended to the base system prompt.
	Instructions string

	// History holds earlier turns of the same session, without the system prompt.
	History []llm.ChatMessage

	// Message is the user's new message.
	Message string
}

// Result summarises a finished run.
type Result struct {
	// Content is the final answer text.
	Content string

	// Messages is the session transcript after the run, without the system
	// prompt. It is what a caller saves to continue the session later.
	Messages []llm.ChatMessage

	// Usage sums the token usage of every model call.
	Usage llm.TokenUsage

	// Iterations counts model calls.
	Iterations int

	// ToolCalls counts dispatched tool invocations.
	ToolCalls int
}
