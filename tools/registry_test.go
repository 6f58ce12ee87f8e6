package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/richinex/agentdock/internal/logger"
)

type fakeCaller struct {
	calls []string
	err   error
}

func (f *fakeCaller) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	f.calls = append(f.calls, server+"/"+tool)
	if f.err != nil {
		return "", f.err
	}
	return "from " + server, nil
}

type fakeSearcher struct {
	agentID string
	query   string
	k       int
}

func (f *fakeSearcher) Search(ctx context.Context, agentID, query string, k int) (string, error) {
	f.agentID, f.query, f.k = agentID, query, k
	return "chunk text", nil
}

func newTestRegistry(opts ...Option) *Registry {
	return NewRegistry(append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func TestRegistryLastWriteWins(t *testing.T) {
	caller := &fakeCaller{}
	r := newTestRegistry(WithServerCaller(caller), WithSearcher(&fakeSearcher{}))

	if err := r.Add(Descriptor{Name: "lookup", Description: "openapi", Binding: HTTPBinding{BaseURL: "http://api", Path: "/lookup"}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := r.Add(Descriptor{Name: "other", Binding: HTTPBinding{BaseURL: "http://api", Path: "/other"}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := r.Add(Descriptor{Name: "lookup", Description: "mcp", Binding: ServerBinding{Server: "srv", Tool: "lookup"}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if r.Len() != 2 {
		t.Fatalf("expected 2 tools, got %d", r.Len())
	}
	if names := r.Names(); names[0] != "lookup" || names[1] != "other" {
		t.Errorf("expected first-insertion order, got %v", names)
	}
	tool, _ := r.Get("lookup")
	if tool.Descriptor().Description != "mcp" {
		t.Errorf("expected later descriptor to win, got %q", tool.Descriptor().Description)
	}

	result := r.Invoke(context.Background(), "lookup", json.RawMessage(`{}`))
	if !result.Success() || result.Output != "from srv" {
		t.Errorf("expected server tool to run, got %+v", result)
	}
}

func TestRegistryRejectsUnresolvableBindings(t *testing.T) {
	r := newTestRegistry()

	tests := []Descriptor{
		{Name: "a", Binding: ServerBinding{Server: "s", Tool: "a"}},
		{Name: "b", Binding: RetrievalBinding{AgentID: "x"}},
		{Name: "c", Binding: HTTPBinding{Path: "/c"}},
		{Name: "d"},
		{Binding: HTTPBinding{BaseURL: "http://x", Path: "/"}},
	}
	for _, d := range tests {
		if err := r.Add(d); err == nil {
			t.Errorf("expected error adding %+v", d)
		}
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestInvokeUnknownToolIsResult(t *testing.T) {
	r := newTestRegistry()

	result := r.Invoke(context.Background(), "missing", nil)
	if result.Success() {
		t.Fatal("expected failure result")
	}
	if !strings.HasPrefix(result.Content(), "Error: unknown tool") {
		t.Errorf("unexpected content %q", result.Content())
	}
}

func TestInvokeMalformedArguments(t *testing.T) {
	r := newTestRegistry(WithSearcher(&fakeSearcher{}))
	if err := r.Add(RetrievalDescriptor("agent-1", 0)); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	result := r.Invoke(context.Background(), RetrievalToolName, json.RawMessage(`{"query":`))
	if result.Success() || !strings.Contains(result.Content(), "missing required argument(s) [query]") {
		t.Errorf("expected missing query failure, got %q", result.Content())
	}
}

func TestInvokeServerFailureBecomesText(t *testing.T) {
	r := newTestRegistry(WithServerCaller(&fakeCaller{err: errors.New("connection refused")}))
	if err := r.Add(Descriptor{Name: "x", Binding: ServerBinding{Server: "s", Tool: "x"}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	result := r.Invoke(context.Background(), "x", nil)
	if result.Content() != "Error: connection refused" {
		t.Errorf("unexpected content %q", result.Content())
	}
}

func TestRetrievalToolDispatch(t *testing.T) {
	searcher := &fakeSearcher{}
	r := newTestRegistry(WithSearcher(searcher))
	if err := r.Add(RetrievalDescriptor("agent-1", 3)); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	result := r.Invoke(context.Background(), RetrievalToolName, json.RawMessage(`{"query":"refund policy"}`))
	if !result.Success() || result.Output != "chunk text" {
		t.Fatalf("unexpected result %+v", result)
	}
	if searcher.agentID != "agent-1" || searcher.query != "refund policy" || searcher.k != 3 {
		t.Errorf("unexpected search call %+v", searcher)
	}

	missing := r.Invoke(context.Background(), RetrievalToolName, json.RawMessage(`{}`))
	if missing.Success() {
		t.Error("expected missing query to fail validation")
	}
}

func TestRetrievalDescriptorSchema(t *testing.T) {
	d := RetrievalDescriptor("a", 0)
	q, ok := d.Parameters.Properties["query"]
	if !ok || q.Kind != KindString {
		t.Fatalf("expected string query property, got %+v", d.Parameters)
	}
	if !d.Parameters.IsRequired("query") {
		t.Error("expected query to be required")
	}
}

func TestDefinitionsFollowOrder(t *testing.T) {
	r := newTestRegistry(WithSearcher(&fakeSearcher{}))
	_ = r.Add(Descriptor{Name: "b", Description: "B", Binding: HTTPBinding{BaseURL: "http://x", Path: "/b"}})
	_ = r.Add(RetrievalDescriptor("a", 0))

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "b" || defs[1].Name != RetrievalToolName {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("expected object parameters, got %v", defs[0].Parameters)
	}
}

func TestDescriptorJSONRoundTrip(t *testing.T) {
	params := Object()
	params.Set("city", Leaf(KindString, ""), true)
	in := []Descriptor{
		{Name: "getWeather", Description: "Weather", Parameters: params, Binding: HTTPBinding{Path: "/weather"}},
		{Name: "echo", Binding: ServerBinding{Server: "s", Tool: "echo"}},
		RetrievalDescriptor("agent", 2),
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out []Descriptor
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if b, ok := out[0].Binding.(HTTPBinding); !ok || b.Path != "/weather" {
		t.Errorf("unexpected binding %#v", out[0].Binding)
	}
	if _, ok := out[1].Binding.(ServerBinding); !ok {
		t.Errorf("unexpected binding %#v", out[1].Binding)
	}
	if b, ok := out[2].Binding.(RetrievalBinding); !ok || b.TopK != 2 {
		t.Errorf("unexpected binding %#v", out[2].Binding)
	}
	if !out[0].Parameters.IsRequired("city") {
		t.Error("expected required flag to survive")
	}
}

type slowTool struct{}

func (slowTool) Descriptor() Descriptor {
	return Descriptor{Name: "slow", Parameters: Object(), Binding: ServerBinding{Server: "s", Tool: "slow"}}
}

func (slowTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	<-ctx.Done()
	return ToolResult{}, ctx.Err()
}

type panicTool struct{ slowTool }

func (panicTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	panic("boom")
}

func TestExecutorTimeout(t *testing.T) {
	e := NewExecutor(ToolConfig{TimeoutSecs: 1}).WithLogger(logger.Discard())

	start := time.Now()
	result := e.Execute(context.Background(), slowTool{}, nil)
	if result.Success() || !strings.Contains(result.Content(), "timed out") {
		t.Errorf("expected timeout failure, got %q", result.Content())
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout took too long")
	}
}

func TestExecutorRecoversPanic(t *testing.T) {
	e := NewDefaultExecutor().WithLogger(logger.Discard())
	result := e.Execute(context.Background(), panicTool{}, nil)
	if result.Success() || !strings.Contains(result.Content(), "panicked") {
		t.Errorf("expected panic failure, got %q", result.Content())
	}
}

func TestToolConfigTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ToolConfig
		want uint64
	}{
		{"nil", nil, 60},
		{"zero", &ToolConfig{}, 60},
		{"explicit", &ToolConfig{TimeoutSecs: 5}, 5},
		{"disabled", &ToolConfig{TimeoutSecs: 5, NoTimeout: true}, 0},
	}
	for _, tt := range tests {
		if got := tt.cfg.Timeout(); got != tt.want {
			t.Errorf("%s: Timeout() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestHTTPToolThroughRegistry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{ "city": "` + r.URL.Query().Get("city") + `" }`))
	}))
	defer server.Close()

	r := newTestRegistry(WithHTTPClient(server.Client()))
	if err := r.Add(Descriptor{Name: "weather", Binding: HTTPBinding{BaseURL: server.URL, Path: "/weather"}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	result := r.Invoke(context.Background(), "weather", json.RawMessage(`{"city":"Oslo"}`))
	if result.Output != `{"city":"Oslo"}` {
		t.Errorf("expected compact JSON body, got %q", result.Output)
	}
}

func TestToolConfigFor(t *testing.T) {
	if !ToolConfigFor(0).NoTimeout {
		t.Error("zero duration should disable the deadline")
	}
	whole := ToolConfigFor(90 * time.Second)
	if got := whole.Timeout(); got != 90 {
		t.Errorf("Timeout() = %d, want 90", got)
	}
	fraction := ToolConfigFor(200 * time.Millisecond)
	if got := fraction.Timeout(); got != 1 {
		t.Errorf("Timeout() = %d, want 1", got)
	}
}

func TestDecodeArgsRecoversFencedObject(t *testing.T) {
	args, err := DecodeArgs(json.RawMessage("```json\n{\"query\": \"tides\"}\n```"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["query"] != "tides" {
		t.Errorf("expected query tides, got %v", args)
	}

	if _, err := DecodeArgs(json.RawMessage(`{"query":`)); err == nil {
		t.Error("expected truncated object to fail")
	}
}
