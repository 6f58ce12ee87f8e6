package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/richinex/agentdock/config"
	"github.com/richinex/agentdock/storage"
)

const weatherDoc = `openapi: 3.0.0
paths:
  /forecast/{city}:
    get:
      operationId: getForecast
      summary: Forecast for a city
      parameters:
        - name: city
          in: path
          required: true
          schema: {type: string}
`

func TestTranslateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weather.yaml")
	if err := os.WriteFile(path, []byte(weatherDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := Translate(context.Background(), &out, path); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	var descriptors []map[string]any
	if err := json.Unmarshal(out.Bytes(), &descriptors); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(descriptors) != 1 || descriptors[0]["name"] != "getForecast" {
		t.Fatalf("descriptors = %v", descriptors)
	}
}

func TestTranslateMissingFile(t *testing.T) {
	err := Translate(context.Background(), &bytes.Buffer{}, filepath.Join(t.TempDir(), "nope.json"))
	if err == nil || !strings.Contains(err.Error(), "failed to read") {
		t.Fatalf("err = %v", err)
	}
}

func TestLookupAgent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	a := storage.Agent{UserID: "u1", Name: "helper"}
	if err := store.CreateAgent(ctx, &a); err != nil {
		t.Fatal(err)
	}

	if _, err := lookupAgent(ctx, store, "", a.ID); err == nil || !strings.Contains(err.Error(), "--user") {
		t.Errorf("missing user: err = %v", err)
	}
	if _, err := lookupAgent(ctx, store, "u2", a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other user: err = %v, want ErrNotFound", err)
	}
	got, err := lookupAgent(ctx, store, "u1", a.ID)
	if err != nil || got.Name != "helper" {
		t.Errorf("owner: got %+v, %v", got, err)
	}
}

func TestSplitterLength(t *testing.T) {
	s, err := splitter(config.RetrievalConfig{ChunkSize: 10, ChunkOverlap: 2, ChunkLength: "runes"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Size != 10 || s.Overlap != 2 {
		t.Errorf("splitter = %d/%d, want 10/2", s.Size, s.Overlap)
	}
	if got := s.Length("héllo"); got != 5 {
		t.Errorf("rune length = %d, want 5", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("firstLine = %q", got)
	}
}
