// Package stream carries orchestration events to clients as NDJSON.
//
// Information Hiding:
// - Wire shape of each event kind hidden behind constructors
// - Flushing and framing hidden in Writer
// - Channel draining and stop conditions hidden in Pump

package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type tags an event on the wire.
type Type string

const (
	TypeToken      Type = "token"
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeDone       Type = "done"
	TypeError      Type = "error"
)

// Event is one line of the chat stream.
type Event struct {
	Type    Type
	Content string
	Tool    string
	Args    json.RawMessage
	ID      string
	Message string
}

// Token carries a model text delta.
func Token(content string) Event {
	return Event{Type: TypeToken, Content: content}
}

// ToolCall announces a tool invocation before it is dispatched.
// Arguments that are not valid JSON are carried as a JSON string.
func ToolCall(tool string, args json.RawMessage, id string) Event {
	return Event{Type: TypeToolCall, Tool: tool, Args: normalizeArgs(args), ID: id}
}

// ToolResult reports the text a tool returned to the model.
func ToolResult(tool, content, id string) Event {
	return Event{Type: TypeToolResult, Tool: tool, Content: content, ID: id}
}

// Done ends a successful run.
func Done() Event {
	return Event{Type: TypeDone}
}

// Error ends a failed run.
func Error(message string) Event {
	return Event{Type: TypeError, Message: message}
}

// Errorf formats an error event.
func Errorf(format string, args ...any) Event {
	return Error(fmt.Sprintf(format, args...))
}

// Terminal reports whether nothing may follow the event.
func (e Event) Terminal() bool {
	return e.Type == TypeDone || e.Type == TypeError
}

func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(args) {
		return args
	}
	quoted, _ := json.Marshal(string(args))
	return quoted
}

type tokenJSON struct {
	Type    Type   `json:"type"`
	Content string `json:"content"`
}

type toolCallJSON struct {
	Type Type            `json:"type"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
	ID   string          `json:"id"`
}

type toolResultJSON struct {
	Type    Type   `json:"type"`
	Tool    string `json:"tool"`
	Content string `json:"content"`
	ID      string `json:"id"`
}

type errorJSON struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type doneJSON struct {
	Type Type `json:"type"`
}

// MarshalJSON writes only the fields that belong to the event's type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeToken:
		return marshal(tokenJSON{Type: e.Type, Content: e.Content})
	case TypeToolCall:
		return marshal(toolCallJSON{Type: e.Type, Tool: e.Tool, Args: normalizeArgs(e.Args), ID: e.ID})
	case TypeToolResult:
		return marshal(toolResultJSON{Type: e.Type, Tool: e.Tool, Content: e.Content, ID: e.ID})
	case TypeError:
		return marshal(errorJSON{Type: e.Type, Message: e.Message})
	case TypeDone:
		return marshal(doneJSON{Type: e.Type})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// marshal encodes v without HTML escaping; the Writer's encoder decides.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON reads any event shape written by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    Type            `json:"type"`
		Content string          `json:"content"`
		Tool    string          `json:"tool"`
		Args    json.RawMessage `json:"args"`
		ID      string          `json:"id"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case TypeToken, TypeToolCall, TypeToolResult, TypeDone, TypeError:
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	*e = Event{
		Type:    raw.Type,
		Content: raw.Content,
		Tool:    raw.Tool,
		Args:    raw.Args,
		ID:      raw.ID,
		Message: raw.Message,
	}
	return nil
}
