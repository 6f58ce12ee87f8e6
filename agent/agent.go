// Tool-calling orchestration loop.
//
// This is THE canonical implementation of a chat run.
// All agent execution goes through this module.
//
// Information Hiding:
// - Loop state transitions hidden
// - Model streaming coordination hidden
// - Concurrent tool dispatch hidden
// - Event ordering guarantees hidden

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/llm"
	"github.com/richinex/agentdock/metrics"
	"github.com/richinex/agentdock/stream"
	"github.com/richinex/agentdock/tools"
)

// Runner drives one model through tool-calling turns.
// A Runner holds no per-run state and may serve concurrent runs.
type Runner struct {
	provider llm.Provider
	registry *tools.Registry
	config   Config
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a runner. A nil registry offers the model no tools.
func New(provider llm.Provider, registry *tools.Registry, config Config, opts ...Option) *Runner {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	r := &Runner{
		provider: provider,
		registry: registry,
		config:   config,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("agent")
	}
	return r
}

// turnFunc asks the model for one response, forwarding text to events.
type turnFunc func(ctx context.Context, conversation []llm.ChatMessage, defs []llm.ToolDefinition, events chan<- stream.Event) (llm.LLMResponse, error)

// Run streams one user turn. Every event goes to events, which the caller
// drains. The run ends with exactly one done or error event unless ctx is
// cancelled first, in which case nothing more is sent.
func (r *Runner) Run(ctx context.Context, req Request, events chan<- stream.Event) (Result, error) {
	return r.loop(ctx, req, events, r.streamTurn)
}

// Complete is Run without model streaming. The answer text of each model
// call arrives as a single token event.
func (r *Runner) Complete(ctx context.Context, req Request, events chan<- stream.Event) (Result, error) {
	return r.loop(ctx, req, events, r.chatTurn)
}

// run is the per-call state that never escapes loop.
type run struct {
	log          *slog.Logger
	state        State
	conversation []llm.ChatMessage
	result       Result
}

func (s *run) enter(next State) {
	s.log.Debug("state transition", "from", s.state, "to", next, "iteration", s.result.Iterations)
	s.state = next
}

func (r *Runner) loop(ctx context.Context, req Request, events chan<- stream.Event, turn turnFunc) (Result, error) {
	s := &run{
		log:          r.logger.With("agent_id", req.AgentID),
		state:        StateAwaitingModel,
		conversation: r.conversation(req),
	}
	defs := r.registry.Definitions()

	for {
		if err := ctx.Err(); err != nil {
			return r.cancelled(s, err)
		}
		if r.config.MaxIterations > 0 && s.result.Iterations >= r.config.MaxIterations {
			return r.fail(ctx, s, events, fmt.Errorf("%w (%d)", ErrMaxIterations, r.config.MaxIterations))
		}

		s.result.Iterations++
		s.enter(StateModelEmitting)
		response, err := turn(ctx, s.conversation, defs, events)
		if err != nil {
			if ctx.Err() != nil {
				return r.cancelled(s, ctx.Err())
			}
			return r.fail(ctx, s, events, fmt.Errorf("model call failed: %w", err))
		}
		s.result.Usage.Add(response.Usage)

		if !response.HasToolCalls() {
			s.conversation = append(s.conversation, llm.AssistantMessage(response.Content))
			s.result.Content = response.Content
			s.enter(StateTerminal)
			if err := stream.Emit(ctx, events, stream.Done()); err != nil {
				return r.cancelled(s, err)
			}
			metrics.ChatRun("done")
			s.result.Messages = transcript(s.conversation)
			s.log.Info("run completed",
				"iterations", s.result.Iterations,
				"tool_calls", s.result.ToolCalls,
				"total_tokens", s.result.Usage.TotalTokens)
			return s.result, nil
		}

		calls := withIDs(response.ToolCalls)
		s.conversation = append(s.conversation, llm.AssistantToolCallMessage(response.Content, calls))
		for _, call := range calls {
			if err := stream.Emit(ctx, events, stream.ToolCall(call.Name, call.Arguments, call.ID)); err != nil {
				return r.cancelled(s, err)
			}
		}

		s.enter(StateInvokingTools)
		outputs, err := r.invoke(ctx, calls, events)
		if errors.Is(err, tools.ErrFatal) {
			return r.fail(ctx, s, events, err)
		}
		if err != nil {
			return r.cancelled(s, err)
		}
		s.result.ToolCalls += len(calls)
		for i, call := range calls {
			s.conversation = append(s.conversation, llm.ToolMessage(call.ID, call.Name, outputs[i]))
		}
		s.enter(StateAwaitingModel)
	}
}

// fail emits the single error event of a run.
func (r *Runner) fail(ctx context.Context, s *run, events chan<- stream.Event, err error) (Result, error) {
	s.enter(StateTerminal)
	s.log.Error("run failed", "error", err, "iterations", s.result.Iterations)
	metrics.ChatRun("error")
	// A cancelled context means nobody is reading; the error still returns.
	_ = stream.Emit(ctx, events, stream.Error(err.Error()))
	return s.result, err
}

func (r *Runner) cancelled(s *run, err error) (Result, error) {
	s.enter(StateTerminal)
	s.log.Info("run cancelled", "error", err)
	metrics.ChatRun("cancelled")
	return s.result, err
}

// conversation builds the message list for the first model call.
func (r *Runner) conversation(req Request) []llm.ChatMessage {
	conversation := make([]llm.ChatMessage, 0, len(req.History)+2)
	conversation = append(conversation, llm.SystemMessage(r.config.systemPrompt(req.Instructions)))
	for _, msg := range req.History {
		if msg.Role == llm.RoleSystem {
			continue
		}
		conversation = append(conversation, msg)
	}
	return append(conversation, llm.UserMessage(req.Message))
}

// transcript drops the leading system prompt.
func transcript(conversation []llm.ChatMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(conversation)-1)
	copy(out, conversation[1:])
	return out
}

// withIDs gives every call an id so its events can be correlated.
func withIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		out[i] = call
	}
	return out
}

// streamResult holds the result of a streaming call.
type streamResult struct {
	response llm.LLMResponse
	err      error
}

// streamTurn forwards text deltas as token events while the provider streams.
func (r *Runner) streamTurn(ctx context.Context, conversation []llm.ChatMessage, defs []llm.ToolDefinition, events chan<- stream.Event) (llm.LLMResponse, error) {
	chunks := make(chan string, 100)

	// Start streaming in goroutine
	resultCh := make(chan streamResult, 1)
	go func() {
		defer close(chunks)
		response, err := r.provider.StreamWithTools(ctx, conversation, defs, chunks)
		resultCh <- streamResult{response: response, err: err}
	}()

	var text strings.Builder
	var emitErr error
	for chunk := range chunks {
		text.WriteString(chunk)
		// Keep draining after a failed emit so the provider goroutine exits.
		if emitErr == nil {
			emitErr = stream.Emit(ctx, events, stream.Token(chunk))
		}
	}

	result := <-resultCh
	if emitErr != nil {
		return llm.LLMResponse{}, emitErr
	}
	if result.err != nil {
		return llm.LLMResponse{}, result.err
	}
	if result.response.Content == "" {
		result.response.Content = text.String()
	}
	return result.response, nil
}

// chatTurn makes one blocking call and emits its text as one token.
func (r *Runner) chatTurn(ctx context.Context, conversation []llm.ChatMessage, defs []llm.ToolDefinition, events chan<- stream.Event) (llm.LLMResponse, error) {
	response, err := r.provider.ChatWithTools(ctx, conversation, defs)
	if err != nil {
		return llm.LLMResponse{}, err
	}
	if response.Content != "" {
		if err := stream.Emit(ctx, events, stream.Token(response.Content)); err != nil {
			return llm.LLMResponse{}, err
		}
	}
	return response, nil
}

// invoke runs a batch concurrently. A tool_result event is emitted as each
// call finishes; outputs come back in call order. Ordinary tool failures
// become output text. A failure wrapping tools.ErrFatal stops the batch
// and is returned without a tool_result; otherwise the only error is the
// context ending.
func (r *Runner) invoke(ctx context.Context, calls []llm.ToolCall, events chan<- stream.Event) ([]string, error) {
	outputs := make([]string, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.concurrency(len(calls)))
	for i, call := range calls {
		g.Go(func() error {
			result := r.registry.Invoke(gctx, call.Name, call.Arguments)
			if errors.Is(result.Error, tools.ErrFatal) {
				return fmt.Errorf("tool '%s' failed: %w", call.Name, result.Error)
			}
			outputs[i] = result.Content()
			return stream.Emit(gctx, events, stream.ToolResult(call.Name, outputs[i], call.ID))
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// IsCancelled reports whether err ended a run because its context ended.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
