package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func decodeLines(t *testing.T, data string) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestEventWireShapes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"token", Token("hi"), `{"type":"token","content":"hi"}`},
		{"empty token keeps content", Token(""), `{"type":"token","content":""}`},
		{"tool call", ToolCall("search", json.RawMessage(`{"q":"x"}`), "c1"), `{"type":"tool_call","tool":"search","args":{"q":"x"},"id":"c1"}`},
		{"tool call without args", ToolCall("ping", nil, "c2"), `{"type":"tool_call","tool":"ping","args":{},"id":"c2"}`},
		{"tool call malformed args", ToolCall("ping", json.RawMessage(`{"q":`), "c3"), `{"type":"tool_call","tool":"ping","args":"{\"q\":","id":"c3"}`},
		{"tool result", ToolResult("search", "", "c1"), `{"type":"tool_result","tool":"search","content":"","id":"c1"}`},
		{"done", Done(), `{"type":"done"}`},
		{"error", Errorf("model failed: %s", "boom"), `{"type":"error","message":"model failed: boom"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUnknownEventTypeFails(t *testing.T) {
	if _, err := json.Marshal(Event{Type: "nope"}); err == nil {
		t.Error("expected marshal error for unknown type")
	}
	var ev Event
	if err := json.Unmarshal([]byte(`{"type":"nope"}`), &ev); err == nil {
		t.Error("expected unmarshal error for unknown type")
	}
}

func TestTerminal(t *testing.T) {
	if !Done().Terminal() || !Error("x").Terminal() {
		t.Error("done and error must be terminal")
	}
	if Token("x").Terminal() || ToolCall("t", nil, "1").Terminal() || ToolResult("t", "", "1").Terminal() {
		t.Error("token and tool events must not be terminal")
	}
}

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec)

	if got := rec.Header().Get("Content-Type"); got != ContentType {
		t.Errorf("content type = %q", got)
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if rec.Header().Get("Content-Length") != "" {
		t.Error("content length must not be set")
	}
}

func TestWriterFlushesEachEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	if err := w.Write(Token("a")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !rec.Flushed {
		t.Error("expected a flush after the first event")
	}
	if rec.Body.String() != "{\"type\":\"token\",\"content\":\"a\"}\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestWriterDoesNotEscapeHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Write(Token("<b>&</b>")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "<b>&</b>") {
		t.Errorf("expected raw markup, got %q", buf.String())
	}
}

func TestPumpStopsAfterTerminal(t *testing.T) {
	events := make(chan Event, 8)
	events <- Token("4")
	events <- Done()
	events <- Token("late")

	var buf bytes.Buffer
	if err := Pump(context.Background(), events, NewWriter(&buf)); err != nil {
		t.Fatalf("pump failed: %v", err)
	}

	lines := decodeLines(t, buf.String())
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0]["content"] != "4" || lines[1]["type"] != "done" {
		t.Errorf("unexpected lines %v", lines)
	}
}

func TestPumpStopsOnClosedChannel(t *testing.T) {
	events := make(chan Event, 1)
	events <- Token("x")
	close(events)

	var buf bytes.Buffer
	if err := Pump(context.Background(), events, NewWriter(&buf)); err != nil {
		t.Fatalf("pump failed: %v", err)
	}
	if len(decodeLines(t, buf.String())) != 1 {
		t.Errorf("expected one line, got %q", buf.String())
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)

	done := make(chan error, 1)
	go func() {
		var buf bytes.Buffer
		done <- Pump(ctx, events, NewWriter(&buf))
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after cancel")
	}
}

type failingWriter struct{ writes int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	return 0, errors.New("broken pipe")
}

func TestPumpStopsOnWriteError(t *testing.T) {
	events := make(chan Event, 2)
	events <- Token("a")
	events <- Token("b")

	sink := &failingWriter{}
	err := Pump(context.Background(), events, NewWriter(sink))
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("expected write error, got %v", err)
	}
	if sink.writes != 1 {
		t.Errorf("expected writing to stop after the first failure, got %d writes", sink.writes)
	}
}

func TestEmitRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan Event)
	if err := Emit(ctx, events, Token("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEventRoundTrip(t *testing.T) {
	in := ToolCall("search", json.RawMessage(`{"q":"x"}`), "c1")
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.Type != TypeToolCall || out.Tool != "search" || out.ID != "c1" || string(out.Args) != `{"q":"x"}` {
		t.Errorf("unexpected event %+v", out)
	}
}
