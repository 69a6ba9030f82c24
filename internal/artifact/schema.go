// Package artifact turns a free-form remote agent into a function that
// returns schema-valid JSON: ask, wait, read a file out of the session,
// validate it, and on failure tell the agent exactly what was wrong and
// try again within a bounded retry budget.
package artifact

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is a JSON primitive kind an artifact field must decode to.
type Kind string

const (
	// KindString matches JSON strings.
	KindString Kind = "string"
	// KindNumber matches JSON numbers.
	KindNumber Kind = "number"
	// KindBool matches JSON booleans.
	KindBool Kind = "bool"
	// KindArray matches JSON arrays.
	KindArray Kind = "array"
	// KindObject matches JSON objects.
	KindObject Kind = "object"
)

// Field describes one expected key of an artifact object.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema is the ordered field list an artifact object is validated against.
// Keys not listed in the schema are tolerated; agents add commentary fields
// and that must not fail a run.
type Schema []Field

// SchemaError reports the first schema violation found in an artifact.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// Is enables errors.Is checks against any SchemaError.
func (e *SchemaError) Is(target error) bool {
	_, ok := target.(*SchemaError)
	return ok
}

// Validate checks data against the schema in field order and reports the
// first violation as *SchemaError. A null value satisfies an optional field
// but violates a required one.
func (s Schema) Validate(data map[string]any) error {
	for _, field := range s {
		value, present := data[field.Name]
		if !present {
			if field.Required {
				return &SchemaError{Field: field.Name, Reason: "missing required field"}
			}
			continue
		}

		actual := kindOf(value)
		if actual == "null" {
			if field.Required {
				return &SchemaError{
					Field:  field.Name,
					Reason: fmt.Sprintf("expected %s, got null", field.Kind),
				}
			}
			continue
		}
		if actual != string(field.Kind) {
			return &SchemaError{
				Field:  field.Name,
				Reason: fmt.Sprintf("expected %s, got %s", field.Kind, actual),
			}
		}
	}
	return nil
}

// Describe renders the expected object shape for corrective prompts.
func (s Schema) Describe() string {
	if len(s) == 0 {
		return "Expected a JSON object."
	}

	parts := make([]string, 0, len(s))
	for _, field := range s {
		part := fmt.Sprintf("%s (%s", field.Name, field.Kind)
		if field.Required {
			part += ", required"
		}
		parts = append(parts, part+")")
	}
	return "Expected a JSON object with keys: " + strings.Join(parts, ", ") + "."
}

// parseObject decodes raw bytes as a single JSON object. Anything else,
// including top-level arrays and bare scalars, is a parse failure.
func parseObject(raw []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("output is empty, expected a JSON object")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return nil, fmt.Errorf("output is not a JSON object: %v", err)
	}
	return data, nil
}

func kindOf(value any) string {
	switch value.(type) {
	case string:
		return string(KindString)
	case float64:
		return string(KindNumber)
	case bool:
		return string(KindBool)
	case []any:
		return string(KindArray)
	case map[string]any:
		return string(KindObject)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}
