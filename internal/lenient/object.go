// Package lenient recovers JSON objects from model output that is almost,
// but not exactly, JSON.
//
// Some models wrap tool-call arguments in markdown fences or surround them
// with a sentence of prose. Object strips those wrappers and decodes what
// is left.
package lenient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoObject is returned when no JSON object can be recovered.
var ErrNoObject = errors.New("no JSON object found")

// Object decodes raw as a JSON object. It accepts, in order: plain JSON, JSON
// inside a ``` or ```json fence, and the span from the first '{' to the
// last '}'. A JSON string whose content is itself an object is unwrapped
// once.
func Object(raw []byte) (map[string]any, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return map[string]any{}, nil
	}

	if obj, ok := decode(text); ok {
		return obj, nil
	}

	if strings.HasPrefix(text, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(text), &inner); err == nil {
			return Object([]byte(inner))
		}
	}

	text = stripFence(text)
	if obj, ok := decode(text); ok {
		return obj, nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		if obj, ok := decode(text[start : end+1]); ok {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w in %q", ErrNoObject, preview(string(raw)))
}

func decode(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// stripFence removes a leading ``` or ```json line and a trailing ```.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func preview(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
