package tools

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestParseSchemaObject(t *testing.T) {
	raw := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"q":     map[string]any{"type": "string", "description": "query"},
			"limit": map[string]any{"type": "integer"},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"note":  map[string]any{"type": []any{"null", "string"}},
		},
		"required": []any{"q"},
	}

	s, err := ParseSchema(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Kind != KindObject {
		t.Errorf("expected object, got %s", s.Kind)
	}
	if s.Properties["limit"].Kind != KindInteger {
		t.Errorf("expected integer limit, got %s", s.Properties["limit"].Kind)
	}
	if s.Properties["tags"].Items == nil || s.Properties["tags"].Items.Kind != KindString {
		t.Errorf("expected string items for tags")
	}
	if s.Properties["note"].Kind != KindString {
		t.Errorf("expected nullable union to resolve to string, got %s", s.Properties["note"].Kind)
	}
	if !s.IsRequired("q") || s.IsRequired("limit") {
		t.Errorf("unexpected required set %v", s.Required)
	}
}

func TestParseSchemaInfersKinds(t *testing.T) {
	s, err := ParseSchema(map[string]any{"properties": map[string]any{"a": map[string]any{}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Kind != KindObject {
		t.Errorf("expected object when properties present, got %s", s.Kind)
	}
	if s.Properties["a"].Kind != KindString {
		t.Errorf("expected untyped leaf to default to string, got %s", s.Properties["a"].Kind)
	}
}

func TestParseSchemaRejectsUnknownType(t *testing.T) {
	_, err := ParseSchema(map[string]any{
		"type":       "object",
		"properties": map[string]any{"f": map[string]any{"type": "file"}},
	})
	if !errors.Is(err, ErrInvalidSchema) {
		t.Fatalf("expected ErrInvalidSchema, got %v", err)
	}
}

func TestToJSONSchemaShape(t *testing.T) {
	s := Object()
	s.Set("city", Leaf(KindString, "City name"), true)
	s.Set("days", Leaf(KindInteger, ""), false)

	out := s.ToJSONSchema()
	if out["type"] != "object" {
		t.Errorf("expected object type, got %v", out["type"])
	}
	required, ok := out["required"].([]string)
	if !ok || !reflect.DeepEqual(required, []string{"city"}) {
		t.Errorf("expected required [city] as []string, got %#v", out["required"])
	}
	props := out["properties"].(map[string]interface{})
	city := props["city"].(map[string]interface{})
	if city["description"] != "City name" {
		t.Errorf("expected description to survive, got %v", city)
	}
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	s := Object()
	s.Set("ids", &Schema{Kind: KindArray, Items: Leaf(KindNumber, "")}, true)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back Schema
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Properties["ids"].Items.Kind != KindNumber || !back.IsRequired("ids") {
		t.Errorf("unexpected schema after round trip: %+v", back)
	}
}

func TestSetAccumulatesRequired(t *testing.T) {
	s := Object()
	s.Set("q", Leaf(KindString, ""), true)
	s.Set("q", Leaf(KindInteger, ""), false)

	if s.Properties["q"].Kind != KindInteger {
		t.Errorf("expected replacement to win, got %s", s.Properties["q"].Kind)
	}
	if !s.IsRequired("q") {
		t.Error("expected q to stay required")
	}
}

func TestValidateRequired(t *testing.T) {
	s := Object()
	s.Set("q", Leaf(KindString, ""), true)

	if err := s.Validate(map[string]any{"q": "x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := s.Validate(map[string]any{}); err == nil {
		t.Error("expected error for missing required argument")
	}
	if err := s.Validate(map[string]any{"q": nil}); err == nil {
		t.Error("expected error for null required argument")
	}
}
