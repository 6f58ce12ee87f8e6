// Package openapi turns OpenAPI documents into tool descriptors.
//
// Information Hiding:
// - Document decoding (JSON or YAML) hidden
// - Local $ref resolution hidden
// - Parameter and request-body merge rules hidden behind Translate
package openapi

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/richinex/agentdock/tools"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidDocument is returned for input that is not a mapping.
	ErrInvalidDocument = errors.New("invalid OpenAPI document")
	// ErrMissingPaths is returned when the document has no paths object.
	ErrMissingPaths = errors.New("OpenAPI document has no paths")
)

const maxRefDepth = 16

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Translate returns one descriptor per GET operation in doc, which may be
// JSON or YAML. Paths are visited in sorted order. Bindings carry only the
// path; the base URL is filled in by Bind.
func Translate(doc []byte) ([]tools.Descriptor, error) {
	var root any
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	document, ok := normalize(root).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, ErrMissingPaths)
	}

	rawPaths, ok := document["paths"]
	if !ok || rawPaths == nil {
		return nil, ErrMissingPaths
	}
	paths, ok := rawPaths.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: paths must be an object", ErrInvalidDocument)
	}

	r := resolver{root: document}
	keys := make([]string, 0, len(paths))
	for path := range paths {
		keys = append(keys, path)
	}
	sort.Strings(keys)

	var descriptors []tools.Descriptor
	for _, path := range keys {
		item, ok := r.deref(paths[path]).(map[string]any)
		if !ok {
			continue
		}
		for method, rawOp := range item {
			if !strings.EqualFold(method, "get") {
				continue
			}
			op, ok := r.deref(rawOp).(map[string]any)
			if !ok {
				continue
			}
			descriptors = append(descriptors, r.operation(path, method, item, op))
		}
	}
	return descriptors, nil
}

func (r resolver) operation(path, method string, item, op map[string]any) tools.Descriptor {
	// A declared operationId is used as is; only the derived name is sanitized.
	name, _ := op["operationId"].(string)
	if name == "" {
		name = sanitizeName(strings.ToLower(method) + "_" + strings.ReplaceAll(path, "/", "_"))
	}

	description, _ := op["summary"].(string)
	if description == "" {
		description, _ = op["description"].(string)
	}
	if description == "" {
		description = strings.ToUpper(method) + " " + path
	}

	params := tools.Object()

	// Path-level parameters apply to every operation; the operation's own
	// parameters override them by name.
	for _, source := range []any{item["parameters"], op["parameters"]} {
		list, _ := source.([]any)
		for _, raw := range list {
			p, ok := r.deref(raw).(map[string]any)
			if !ok {
				continue
			}
			pname, _ := p["name"].(string)
			if pname == "" {
				continue
			}
			if in, _ := p["in"].(string); in == "header" || in == "cookie" {
				continue
			}
			desc, _ := p["description"].(string)
			kind := tools.KindString
			if schema, ok := r.deref(p["schema"]).(map[string]any); ok {
				if t, _ := schema["type"].(string); t != "" {
					if k, err := tools.ParseKind(t); err == nil {
						kind = k
					}
				}
			}
			required, _ := p["required"].(bool)
			params.Set(pname, tools.Leaf(kind, desc), required)
		}
	}

	if body := r.jsonBodySchema(op); body != nil {
		props, _ := body["properties"].(map[string]any)
		propNames := make([]string, 0, len(props))
		for pname := range props {
			propNames = append(propNames, pname)
		}
		sort.Strings(propNames)
		for _, pname := range propNames {
			params.Set(pname, r.property(props[pname]), false)
		}
		for _, req := range stringList(body["required"]) {
			if _, ok := params.Properties[req]; ok {
				params.Set(req, params.Properties[req], true)
			}
		}
	}

	return tools.Descriptor{
		Name:        name,
		Description: description,
		Parameters:  params,
		Binding:     tools.HTTPBinding{Path: path},
	}
}

func (r resolver) jsonBodySchema(op map[string]any) map[string]any {
	body, ok := r.deref(op["requestBody"]).(map[string]any)
	if !ok {
		return nil
	}
	content, ok := body["content"].(map[string]any)
	if !ok {
		return nil
	}
	media, ok := content["application/json"].(map[string]any)
	if !ok {
		return nil
	}
	schema, _ := r.resolveAll(media["schema"], 0).(map[string]any)
	return schema
}

// property converts a body property. Types the tool schema cannot express
// degrade to string rather than failing the whole document.
func (r resolver) property(raw any) *tools.Schema {
	m, ok := r.resolveAll(raw, 0).(map[string]any)
	if !ok {
		return tools.Leaf(tools.KindString, "")
	}
	s, err := tools.ParseSchema(m)
	if err != nil {
		desc, _ := m["description"].(string)
		return tools.Leaf(tools.KindString, desc)
	}
	return s
}

// sanitizeName keeps derived names within the character set model
// providers accept.
func sanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// resolver follows local "#/..." references within one document.
type resolver struct {
	root map[string]any
}

func (r resolver) deref(v any) any {
	for i := 0; i < maxRefDepth; i++ {
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		ref, ok := m["$ref"].(string)
		if !ok {
			return v
		}
		target := r.lookup(ref)
		if target == nil {
			return map[string]any{}
		}
		v = target
	}
	return map[string]any{}
}

// resolveAll dereferences v and everything nested in it.
func (r resolver) resolveAll(v any, depth int) any {
	if depth > maxRefDepth {
		return map[string]any{}
	}
	switch val := r.deref(v).(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = r.resolveAll(child, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = r.resolveAll(child, depth+1)
		}
		return out
	default:
		return val
	}
}

func (r resolver) lookup(ref string) any {
	if !strings.HasPrefix(ref, "#/") {
		return nil
	}
	var cur any = r.root
	for _, part := range strings.Split(ref[2:], "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// normalize converts YAML's map[interface{}]interface{} into map[string]any.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = normalize(child)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []any:
		for i, child := range val {
			val[i] = normalize(child)
		}
		return val
	default:
		return val
	}
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
