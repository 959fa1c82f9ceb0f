package tools

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON schema describing a tool's arguments.
// Use NewSchema to create a Schema.
type Schema struct {
	raw      json.RawMessage
	compiled *gojsonschema.Schema
}

// NewSchema compiles raw as a JSON schema. An empty raw schema accepts any object.
func NewSchema(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}

	return &Schema{raw: raw, compiled: compiled}, nil
}

// MustSchema is like NewSchema but panics on an invalid schema.
// It is intended for schemas declared as literals.
func MustSchema(raw string) *Schema {
	s, err := NewSchema(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the schema document.
func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// Validate checks args against the schema and returns every violation found.
func (s *Schema) Validate(args map[string]any) ([]string, error) {
	if args == nil {
		args = map[string]any{}
	}

	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return nil, fmt.Errorf("validating arguments: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}

	return problems, nil
}
