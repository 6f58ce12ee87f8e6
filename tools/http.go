// HTTP GET invoker for OpenAPI-derived tools.
//
// Information Hiding:
// - URL construction and query encoding hidden
// - Response normalisation (compact JSON, size cap) hidden
// - Non-success statuses reported as failed results

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// MaxResponseBytes caps how much of a response body is handed to the model.
const MaxResponseBytes = 1024 * 1024

type httpTool struct {
	desc    Descriptor
	binding HTTPBinding
	client  *http.Client
}

func (t *httpTool) Descriptor() Descriptor { return t.desc }

// Execute issues the GET request. No body is ever sent.
func (t *httpTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	target, err := BuildURL(t.binding.BaseURL, t.binding.Path, args)
	if err != nil {
		return FailureResult(err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create request: %w", err)), nil
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return FailureResult(fmt.Errorf("request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read response: %w", err)), nil
	}
	text := normaliseBody(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FailureResultf("GET %s returned %d: %s", t.binding.Path, resp.StatusCode, text), nil
	}
	return SuccessResult(text), nil
}

// BuildURL joins base and path and appends args as a query string.
// Keys are encoded in sorted order. Arrays become comma-separated values and
// objects are JSON-encoded. An arg matching a {placeholder} in path is
// substituted into the path instead of the query.
func BuildURL(base, path string, args map[string]any) (string, error) {
	path, args, err := expandPath(path, args)
	if err != nil {
		return "", err
	}

	target := base
	switch {
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		target += path[1:]
	default:
		target += path
	}

	if _, err := url.Parse(target); err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", target, err)
	}
	if len(args) == 0 {
		return target, nil
	}

	query := url.Values{}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if args[k] == nil {
			continue
		}
		v, err := queryValue(args[k])
		if err != nil {
			return "", fmt.Errorf("argument %q: %w", k, err)
		}
		query.Set(k, v)
	}

	if len(query) == 0 {
		return target, nil
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + query.Encode(), nil
}

func expandPath(path string, args map[string]any) (string, map[string]any, error) {
	if !strings.Contains(path, "{") || len(args) == 0 {
		return path, args, nil
	}
	rest := make(map[string]any, len(args))
	for k, v := range args {
		placeholder := "{" + k + "}"
		if v == nil || !strings.Contains(path, placeholder) {
			rest[k] = v
			continue
		}
		value, err := queryValue(v)
		if err != nil {
			return "", nil, fmt.Errorf("argument %q: %w", k, err)
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	return path, rest, nil
}

func queryValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, err := queryValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case float64:
		// JSON numbers decode as float64; integral values print without a fraction.
		if val == float64(int64(val)) {
			return cast.ToStringE(int64(val))
		}
		return cast.ToStringE(val)
	default:
		return cast.ToStringE(val)
	}
}

// normaliseBody compacts JSON bodies and passes anything else through as text.
func normaliseBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}
	return string(body)
}
