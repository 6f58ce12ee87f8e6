// Parameter schemas.
//
// Information Hiding:
// - JSON Schema maps are parsed once into a closed set of kinds
// - Provider-facing JSON Schema rendering hidden behind ToJSONSchema

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Kind is the JSON type of a schema node.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// ErrInvalidSchema is returned for schemas that cannot be represented.
var ErrInvalidSchema = errors.New("invalid schema")

// ParseKind maps a JSON Schema type name to a Kind.
// The empty string maps to KindString.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindString, nil
	case KindString, KindNumber, KindInteger, KindBoolean, KindObject, KindArray:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidSchema, s)
	}
}

// Schema describes a tool's parameters. Objects carry Properties and
// Required; arrays carry Items; the other kinds are leaves.
type Schema struct {
	Kind        Kind
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
}

// Object returns an empty object schema.
func Object() *Schema {
	return &Schema{Kind: KindObject, Properties: map[string]*Schema{}}
}

// Leaf returns a scalar schema.
func Leaf(kind Kind, description string) *Schema {
	return &Schema{Kind: kind, Description: description}
}

// Set adds or replaces a property, marking it required when asked.
// Required flags accumulate across calls.
func (s *Schema) Set(name string, prop *Schema, required bool) {
	if s.Properties == nil {
		s.Properties = map[string]*Schema{}
	}
	s.Properties[name] = prop
	if required {
		s.require(name)
	}
}

func (s *Schema) require(name string) {
	for _, r := range s.Required {
		if r == name {
			return
		}
	}
	s.Required = append(s.Required, name)
	sort.Strings(s.Required)
}

// IsRequired reports whether the named property is required.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// ParseSchema builds a Schema from a decoded JSON Schema document.
// A missing type is inferred: object when properties are present, string otherwise.
// Nullable unions like ["string", "null"] take the first non-null member.
func ParseSchema(raw map[string]any) (*Schema, error) {
	if raw == nil {
		return Object(), nil
	}

	typeName, err := typeOf(raw)
	if err != nil {
		return nil, err
	}
	if typeName == "" {
		if _, ok := raw["properties"]; ok {
			typeName = string(KindObject)
		}
	}
	kind, err := ParseKind(typeName)
	if err != nil {
		return nil, err
	}

	s := &Schema{Kind: kind}
	s.Description, _ = raw["description"].(string)

	switch kind {
	case KindObject:
		s.Properties = map[string]*Schema{}
		props, _ := raw["properties"].(map[string]any)
		for name, p := range props {
			pm, ok := p.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: property %q is not an object", ErrInvalidSchema, name)
			}
			child, err := ParseSchema(pm)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			s.Properties[name] = child
		}
		for _, name := range stringList(raw["required"]) {
			s.require(name)
		}
	case KindArray:
		items, _ := raw["items"].(map[string]any)
		if items == nil {
			s.Items = Leaf(KindString, "")
			break
		}
		child, err := ParseSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = child
	}
	return s, nil
}

func typeOf(raw map[string]any) (string, error) {
	switch t := raw["type"].(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []any:
		for _, v := range t {
			if name, ok := v.(string); ok && name != "null" {
				return name, nil
			}
		}
		return "", nil
	default:
		return "", fmt.Errorf("%w: type must be a string", ErrInvalidSchema)
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ToJSONSchema renders the schema for model providers.
// Objects always carry a properties map; required is a []string.
func (s *Schema) ToJSONSchema() map[string]interface{} {
	if s == nil {
		return Object().ToJSONSchema()
	}
	out := map[string]interface{}{"type": string(s.Kind)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	switch s.Kind {
	case KindObject:
		props := make(map[string]interface{}, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.ToJSONSchema()
		}
		out["properties"] = props
		if len(s.Required) > 0 {
			out["required"] = append([]string(nil), s.Required...)
		}
	case KindArray:
		items := s.Items
		if items == nil {
			items = Leaf(KindString, "")
		}
		out["items"] = items.ToJSONSchema()
	}
	return out
}

// MarshalJSON renders the schema as JSON Schema.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToJSONSchema())
}

// UnmarshalJSON parses a JSON Schema document.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSchema(raw)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// Validate checks that every required property is present in args.
func (s *Schema) Validate(args map[string]any) error {
	if s == nil || s.Kind != KindObject {
		return nil
	}
	var missing []string
	for _, name := range s.Required {
		if v, ok := args[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("validation failed: missing required argument(s) %v", missing)
	}
	return nil
}
