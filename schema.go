package capflow

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema wraps a JSON Schema Draft-7 document and provides validation
// plus normalization for capability inputs and outputs. Schemas are
// treated as closed: object properties not declared in the schema are
// stripped during normalization rather than rejected or passed through.
type Schema struct {
	doc      map[string]any
	compiled *gojsonschema.Schema
}

// NewSchema compiles a schema document. The document is any value that
// marshals to a JSON Schema object, typically a map[string]any literal.
func NewSchema(doc any) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema document: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("schema document must be a JSON object: %w", err)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{doc: m, compiled: compiled}, nil
}

// MustSchema compiles a schema document and panics on failure.
// Intended for package-level capability definitions.
func MustSchema(doc any) *Schema {
	s, err := NewSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Normalize returns a copy of value with properties unknown to the
// schema removed. Nested object schemas and array item schemas are
// walked recursively. Non-object values pass through untouched; type
// errors are left for Validate to report.
func (s *Schema) Normalize(value any) any {
	return stripUnknown(s.doc, value)
}

// Validate checks value against the schema and returns the failing
// constraints on violation. Problems describe the constraint (field,
// expected type, bounds) without reproducing the offending value.
func (s *Schema) Validate(stage, capability string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &ValidationError{
			Stage:      stage,
			Capability: capability,
			Problems:   []string{fmt.Sprintf("value is not JSON-serializable: %v", err)},
		}
	}

	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ValidationError{
			Stage:      stage,
			Capability: capability,
			Problems:   []string{fmt.Sprintf("schema evaluation failed: %v", err)},
		}
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}

	return &ValidationError{
		Stage:      stage,
		Capability: capability,
		Problems:   problems,
	}
}

// stripUnknown removes object members not declared in the schema's
// properties. Schemas without a properties map (free-form objects,
// scalars, unions) leave the value unchanged.
func stripUnknown(schema map[string]any, value any) any {
	switch v := value.(type) {
	case map[string]any:
		props, ok := schema["properties"].(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(v))
		for name, member := range v {
			propSchema, declared := props[name]
			if !declared {
				continue
			}
			if ps, ok := propSchema.(map[string]any); ok {
				out[name] = stripUnknown(ps, member)
			} else {
				out[name] = member
			}
		}
		return out
	case []any:
		items, ok := schema["items"].(map[string]any)
		if !ok {
			return v
		}
		out := make([]any, len(v))
		for i, member := range v {
			out[i] = stripUnknown(items, member)
		}
		return out
	default:
		return value
	}
}
