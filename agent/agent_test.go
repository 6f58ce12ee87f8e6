package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/llm"
	"github.com/richinex/agentdock/storage"
	"github.com/richinex/agentdock/stream"
	"github.com/richinex/agentdock/tools"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, which starts a stats worker in init
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// step is one scripted model reply.
type step struct {
	chunks   []string
	response llm.LLMResponse
	err      error
	block    bool // wait for ctx to end
}

type scriptedProvider struct {
	mu    sync.Mutex
	steps []step
	seen  [][]llm.ChatMessage
	tools []llm.ToolDefinition
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) next(conversation []llm.ChatMessage, defs []llm.ToolDefinition) step {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, append([]llm.ChatMessage(nil), conversation...))
	p.tools = defs
	if len(p.steps) == 0 {
		return step{err: errors.New("script exhausted")}
	}
	s := p.steps[0]
	if len(p.steps) > 1 {
		p.steps = p.steps[1:]
	}
	return s
}

func (p *scriptedProvider) ChatWithTools(ctx context.Context, conversation []llm.ChatMessage, defs []llm.ToolDefinition) (llm.LLMResponse, error) {
	s := p.next(conversation, defs)
	if s.block {
		<-ctx.Done()
		return llm.LLMResponse{}, ctx.Err()
	}
	if s.err != nil {
		return llm.LLMResponse{}, s.err
	}
	return s.response, nil
}

func (p *scriptedProvider) StreamWithTools(ctx context.Context, conversation []llm.ChatMessage, defs []llm.ToolDefinition, chunks chan<- string) (llm.LLMResponse, error) {
	s := p.next(conversation, defs)
	if s.block {
		<-ctx.Done()
		return llm.LLMResponse{}, ctx.Err()
	}
	for _, c := range s.chunks {
		select {
		case chunks <- c:
		case <-ctx.Done():
			return llm.LLMResponse{}, ctx.Err()
		}
	}
	if s.err != nil {
		return llm.LLMResponse{}, s.err
	}
	return s.response, nil
}

func (p *scriptedProvider) calls() [][]llm.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}

// serverFunc lets a test decide what each tool does.
type serverFunc func(ctx context.Context, tool string, args map[string]any) (string, error)

func (f serverFunc) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	return f(ctx, tool, args)
}

func newRegistry(t *testing.T, caller tools.ServerCaller, names ...string) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(tools.WithServerCaller(caller), tools.WithLogger(logger.Discard()))
	for _, name := range names {
		if err := r.Add(tools.Descriptor{Name: name, Binding: tools.ServerBinding{Server: "srv", Tool: name}}); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	return r
}

func newRunner(p llm.Provider, r *tools.Registry, cfg Config) *Runner {
	return New(p, r, cfg, WithLogger(logger.Discard()))
}

func collect(t *testing.T, fn func(chan<- stream.Event) (Result, error)) (Result, error, []stream.Event) {
	t.Helper()
	events := make(chan stream.Event, 256)
	result, err := fn(events)
	close(events)
	var out []stream.Event
	for ev := range events {
		out = append(out, ev)
	}
	return result, err, out
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestRunDirectAnswer(t *testing.T) {
	p := &scriptedProvider{steps: []step{{chunks: []string{"4"}, response: llm.LLMResponse{Content: "4"}}}}
	runner := newRunner(p, nil, DefaultConfig())

	result, err, events := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "2+2?"}, ch)
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		if ev.Type != stream.TypeToken {
			t.Fatalf("unexpected event %+v", ev)
		}
		text.WriteString(ev.Content)
	}
	if text.String() != "4" {
		t.Errorf("tokens = %q, want 4", text.String())
	}
	if events[len(events)-1].Type != stream.TypeDone {
		t.Errorf("last event = %+v, want done", events[len(events)-1])
	}
	if result.Content != "4" || result.Iterations != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(result.Messages) != 2 || result.Messages[0].Role != llm.RoleUser || result.Messages[1].Role != llm.RoleAssistant {
		t.Errorf("unexpected transcript %+v", result.Messages)
	}
}

func TestRunToolBatchOrderingAndPartialFailure(t *testing.T) {
	failStarted := make(chan struct{})
	caller := serverFunc(func(ctx context.Context, tool string, args map[string]any) (string, error) {
		switch tool {
		case "slow":
			select {
			case <-failStarted:
			case <-time.After(2 * time.Second):
			}
			return "slow done", nil
		case "broken":
			close(failStarted)
			return "", errors.New("upstream 500")
		}
		return "", errors.New("unexpected tool")
	})

	p := &scriptedProvider{steps: []step{
		{response: llm.LLMResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", "slow", `{"q":"a"}`),
			toolCall("c2", "broken", `{}`),
		}}},
		{chunks: []string{"all ", "done"}, response: llm.LLMResponse{Content: "all done"}},
	}}
	runner := newRunner(p, newRegistry(t, caller, "slow", "broken"), DefaultConfig())

	result, err, events := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "go"}, ch)
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	callAt := map[string]int{}
	resultAt := map[string]int{}
	results := map[string]string{}
	for i, ev := range events {
		switch ev.Type {
		case stream.TypeToolCall:
			if _, dup := callAt[ev.ID]; dup {
				t.Errorf("duplicate tool_call for %s", ev.ID)
			}
			callAt[ev.ID] = i
		case stream.TypeToolResult:
			if _, dup := resultAt[ev.ID]; dup {
				t.Errorf("duplicate tool_result for %s", ev.ID)
			}
			resultAt[ev.ID] = i
			results[ev.ID] = ev.Content
		case stream.TypeError:
			t.Errorf("a failing tool must not emit error: %+v", ev)
		}
	}
	for _, id := range []string{"c1", "c2"} {
		if callAt[id] >= resultAt[id] {
			t.Errorf("tool_call %s at %d not before tool_result at %d", id, callAt[id], resultAt[id])
		}
	}
	if callAt["c2"] > resultAt["c1"] || callAt["c2"] > resultAt["c2"] {
		t.Error("every tool_call of a batch must precede the batch's results")
	}
	if resultAt["c2"] > resultAt["c1"] {
		t.Error("results should be emitted as calls complete")
	}
	if results["c1"] != "slow done" || results["c2"] != "Error: upstream 500" {
		t.Errorf("unexpected results %v", results)
	}
	if events[len(events)-1].Type != stream.TypeDone {
		t.Errorf("expected done last, got %+v", events[len(events)-1])
	}

	second := p.calls()[1]
	tail := second[len(second)-3:]
	if tail[0].Role != llm.RoleAssistant || len(tail[0].ToolCalls) != 2 {
		t.Fatalf("expected assistant tool call message, got %+v", tail[0])
	}
	if tail[1].ToolCallID != "c1" || tail[1].Name != "slow" || tail[2].ToolCallID != "c2" || tail[2].Content != "Error: upstream 500" {
		t.Errorf("tool messages not in call order: %+v", tail[1:])
	}
	if result.ToolCalls != 2 || result.Iterations != 2 || result.Content != "all done" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestRunModelFailureEmitsOneError(t *testing.T) {
	p := &scriptedProvider{steps: []step{{chunks: []string{"par"}, err: errors.New("rate limited")}}}
	runner := newRunner(p, nil, DefaultConfig())

	_, err, events := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "hi"}, ch)
	})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected model error, got %v", err)
	}

	errorsSeen := 0
	for _, ev := range events {
		switch ev.Type {
		case stream.TypeError:
			errorsSeen++
			if !strings.Contains(ev.Message, "rate limited") {
				t.Errorf("unexpected message %q", ev.Message)
			}
		case stream.TypeDone:
			t.Error("done must not follow a model failure")
		}
	}
	if errorsSeen != 1 {
		t.Errorf("expected exactly one error event, got %d", errorsSeen)
	}
	if !events[len(events)-1].Terminal() {
		t.Error("stream must end with the error event")
	}
}

func TestRunMaxIterations(t *testing.T) {
	caller := serverFunc(func(ctx context.Context, tool string, args map[string]any) (string, error) {
		return "again", nil
	})
	p := &scriptedProvider{steps: []step{
		{response: llm.LLMResponse{ToolCalls: []llm.ToolCall{toolCall("", "loop", `{}`)}}},
	}}
	runner := newRunner(p, newRegistry(t, caller, "loop"), Config{MaxIterations: 2})

	result, err, events := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "spin"}, ch)
	})
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
	if result.Iterations != 2 {
		t.Errorf("expected 2 model calls, got %d", result.Iterations)
	}
	if last := events[len(events)-1]; last.Type != stream.TypeError {
		t.Errorf("expected error event last, got %+v", last)
	}
}

func TestRunAssignsMissingCallIDs(t *testing.T) {
	caller := serverFunc(func(ctx context.Context, tool string, args map[string]any) (string, error) {
		return "ok", nil
	})
	p := &scriptedProvider{steps: []step{
		{response: llm.LLMResponse{ToolCalls: []llm.ToolCall{toolCall("", "ping", `{}`)}}},
		{response: llm.LLMResponse{Content: "pong"}},
	}}
	runner := newRunner(p, newRegistry(t, caller, "ping"), DefaultConfig())

	_, err, events := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "ping"}, ch)
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if events[0].Type != stream.TypeToolCall || events[0].ID == "" {
		t.Fatalf("expected tool_call with an id, got %+v", events[0])
	}
	if events[1].Type != stream.TypeToolResult || events[1].ID != events[0].ID {
		t.Errorf("result id %q does not match call id %q", events[1].ID, events[0].ID)
	}
}

func TestRunMalformedArgumentsStillDispatch(t *testing.T) {
	var got map[string]any
	caller := serverFunc(func(ctx context.Context, tool string, args map[string]any) (string, error) {
		got = args
		return "handled", nil
	})
	p := &scriptedProvider{steps: []step{
		{response: llm.LLMResponse{ToolCalls: []llm.ToolCall{toolCall("c1", "lenient", `{"q":`)}}},
		{response: llm.LLMResponse{Content: "ok"}},
	}}
	runner := newRunner(p, newRegistry(t, caller, "lenient"), DefaultConfig())

	_, err, events := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "x"}, ch)
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty arguments, got %v", got)
	}
	if events[1].Content != "handled" {
		t.Errorf("unexpected result %+v", events[1])
	}
}

func TestRunToolConcurrencyLimit(t *testing.T) {
	var running, peak int32
	caller := serverFunc(func(ctx context.Context, tool string, args map[string]any) (string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return tool, nil
	})
	p := &scriptedProvider{steps: []step{
		{response: llm.LLMResponse{ToolCalls: []llm.ToolCall{
			toolCall("a", "t1", `{}`), toolCall("b", "t2", `{}`), toolCall("c", "t3", `{}`),
		}}},
		{response: llm.LLMResponse{Content: "done"}},
	}}
	runner := newRunner(p, newRegistry(t, caller, "t1", "t2", "t3"), Config{ToolConcurrency: 1})

	if _, err, _ := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "x"}, ch)
	}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if peak != 1 {
		t.Errorf("expected at most one call at a time, peak was %d", peak)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := &scriptedProvider{steps: []step{{block: true}}}
	runner := newRunner(p, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan stream.Event, 8)
	errCh := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx, Request{Message: "hang"}, events)
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		if !IsCancelled(err) {
			t.Errorf("expected cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	close(events)
	for ev := range events {
		if ev.Terminal() {
			t.Errorf("no terminal event expected after cancel, got %+v", ev)
		}
	}
}

func TestRunCancelsInFlightTools(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	caller := serverFunc(func(toolCtx context.Context, tool string, args map[string]any) (string, error) {
		cancel()
		<-toolCtx.Done()
		return "", toolCtx.Err()
	})
	p := &scriptedProvider{steps: []step{
		{response: llm.LLMResponse{ToolCalls: []llm.ToolCall{toolCall("c1", "wait", `{}`)}}},
	}}
	runner := newRunner(p, newRegistry(t, caller, "wait"), DefaultConfig())

	_, err, _ := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(ctx, Request{Message: "x"}, ch)
	})
	if !IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(p.calls()) != 1 {
		t.Errorf("model must not be called again after cancel, got %d calls", len(p.calls()))
	}
}

func TestCompleteEmitsWholeText(t *testing.T) {
	p := &scriptedProvider{steps: []step{{response: llm.LLMResponse{Content: "hello there"}}}}
	runner := newRunner(p, nil, DefaultConfig())

	_, err, events := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Complete(context.Background(), Request{Message: "hi"}, ch)
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if len(events) != 2 || events[0].Content != "hello there" || events[1].Type != stream.TypeDone {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestConversationAssembly(t *testing.T) {
	p := &scriptedProvider{steps: []step{{response: llm.LLMResponse{Content: "again"}}}}
	runner := newRunner(p, nil, DefaultConfig())

	history := []llm.ChatMessage{
		llm.SystemMessage("stale prompt"),
		llm.UserMessage("first"),
		llm.AssistantMessage("reply"),
	}
	result, err, _ := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Instructions: "Answer in French.", History: history, Message: "second"}, ch)
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	sent := p.calls()[0]
	if len(sent) != 4 {
		t.Fatalf("expected system + 2 history + user, got %d messages", len(sent))
	}
	if sent[0].Role != llm.RoleSystem || !strings.Contains(sent[0].Content, "doc_search") || !strings.HasSuffix(sent[0].Content, "Answer in French.") {
		t.Errorf("unexpected system prompt %q", sent[0].Content)
	}
	if sent[3].Content != "second" {
		t.Errorf("user message not last: %+v", sent[3])
	}
	if len(result.Messages) != 4 || result.Messages[3].Content != "again" {
		t.Errorf("unexpected transcript %+v", result.Messages)
	}
}

type stubSearcher struct{}

func (stubSearcher) Search(ctx context.Context, agentID, query string, k int) (string, error) {
	return "found for " + agentID, nil
}

// downSearcher fails the way the pipeline does when the embedder is unreachable.
type downSearcher struct{}

func (downSearcher) Search(ctx context.Context, agentID, query string, k int) (string, error) {
	return "", fmt.Errorf("%w: failed to embed query: embedding service down", tools.ErrFatal)
}

func TestRunEmbeddingFailureEndsRunWithError(t *testing.T) {
	toolset, err := NewBuilder("agent-1").Retrieval(downSearcher{}, 0).Logger(logger.Discard()).Build(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer toolset.Close()

	p := &scriptedProvider{steps: []step{
		{response: llm.LLMResponse{ToolCalls: []llm.ToolCall{{ID: "c1", Name: tools.RetrievalToolName, Arguments: json.RawMessage(`{"query":"cats"}`)}}}},
		{response: llm.LLMResponse{Content: "sorry"}},
	}}
	runner := newRunner(p, toolset.Registry, DefaultConfig())

	_, err, events := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "find cats"}, ch)
	})
	if !errors.Is(err, tools.ErrFatal) {
		t.Fatalf("expected fatal tool error, got %v", err)
	}
	if len(events) != 2 || events[0].Type != stream.TypeToolCall || events[1].Type != stream.TypeError {
		t.Fatalf("expected tool_call then error, got %+v", events)
	}
	if !strings.Contains(events[1].Message, "embedding service down") {
		t.Errorf("unexpected error message %q", events[1].Message)
	}
	if n := len(p.calls()); n != 1 {
		t.Errorf("model should not be called after a fatal tool failure, got %d calls", n)
	}
}

func TestBuilderOrderAndCollisions(t *testing.T) {
	api := storage.OpenAPIIntegration{
		Name:   "weather",
		APIURL: "http://weather.test",
		Tools: []tools.Descriptor{
			{Name: "getWeather", Binding: tools.HTTPBinding{Path: "/weather"}},
			{Name: tools.RetrievalToolName, Binding: tools.HTTPBinding{Path: "/search"}},
		},
	}

	toolset, err := NewBuilder("agent-1").
		OpenAPI(api).
		Retrieval(stubSearcher{}, 0).
		Logger(logger.Discard()).
		Build(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer toolset.Close()

	names := toolset.Registry.Names()
	if len(names) != 2 || names[0] != "getWeather" || names[1] != tools.RetrievalToolName {
		t.Fatalf("unexpected names %v", names)
	}
	search, _ := toolset.Registry.Get(tools.RetrievalToolName)
	if _, ok := search.Descriptor().Binding.(tools.RetrievalBinding); !ok {
		t.Errorf("retrieval tool should replace the colliding OpenAPI tool, got %T", search.Descriptor().Binding)
	}
	weather, _ := toolset.Registry.Get("getWeather")
	if b := weather.Descriptor().Binding.(tools.HTTPBinding); b.BaseURL != "http://weather.test" {
		t.Errorf("base URL not bound: %+v", b)
	}

	out := toolset.Registry.Invoke(context.Background(), tools.RetrievalToolName, json.RawMessage(`{"query":"x"}`))
	if out.Content() != "found for agent-1" {
		t.Errorf("unexpected search output %q", out.Content())
	}
}

func TestRunnerOffersRegistryTools(t *testing.T) {
	toolset, err := NewBuilder("agent-1").Retrieval(stubSearcher{}, 0).Logger(logger.Discard()).Build(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer toolset.Close()

	p := &scriptedProvider{steps: []step{{response: llm.LLMResponse{Content: "ok"}}}}
	runner := newRunner(p, toolset.Registry, DefaultConfig())
	if _, err, _ := collect(t, func(ch chan<- stream.Event) (Result, error) {
		return runner.Run(context.Background(), Request{Message: "x"}, ch)
	}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(p.tools) != 1 || p.tools[0].Name != tools.RetrievalToolName {
		t.Errorf("unexpected tool definitions %+v", p.tools)
	}
}
