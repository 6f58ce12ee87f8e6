package openapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/richinex/agentdock/tools"
)

// MaxDocumentBytes bounds the size of a fetched OpenAPI document.
const MaxDocumentBytes = 8 * 1024 * 1024

// Fetch downloads the document at schemaURL.
func Fetch(ctx context.Context, client *http.Client, schemaURL string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, schemaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch schema: %s returned %d", schemaURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return body, nil
}

// Load fetches and translates a document in one step.
func Load(ctx context.Context, client *http.Client, schemaURL string) ([]tools.Descriptor, error) {
	doc, err := Fetch(ctx, client, schemaURL)
	if err != nil {
		return nil, err
	}
	return Translate(doc)
}

// Bind points every HTTP descriptor at apiURL. Other bindings pass through.
func Bind(descriptors []tools.Descriptor, apiURL string) []tools.Descriptor {
	out := make([]tools.Descriptor, len(descriptors))
	for i, d := range descriptors {
		if b, ok := d.Binding.(tools.HTTPBinding); ok {
			b.BaseURL = apiURL
			d.Binding = b
		}
		out[i] = d
	}
	return out
}
