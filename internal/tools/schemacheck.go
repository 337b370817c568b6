package tools

import (
	"fmt"

	"github.com/rendis/flowop/pkg/schema"
)

// ValidateParams checks params against the constrained tool schema shape.
// Returns nil when the schema is nil or everything matches; otherwise a
// SCHEMA_VALIDATION error carrying the full list of path-qualified failures.
func ValidateParams(s *schema.ValueSchema, params any) *schema.FlowError {
	if s == nil {
		return nil
	}
	failures := validateValue(s, params, "")
	if len(failures) == 0 {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeSchemaValidation,
		"params do not match input schema: %s", failures[0]).
		WithDetails(map[string]any{"failures": failures})
}

// validateValue recursively validates one value, accumulating failures with
// dotted/indexed paths. Unknown additional properties are allowed.
func validateValue(s *schema.ValueSchema, v any, path string) []string {
	loc := path
	if loc == "" {
		loc = "(root)"
	}

	switch s.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return []string{fmt.Sprintf("%s: expected string, got %T", loc, v)}
		}
	case "number":
		if !isNumber(v) {
			return []string{fmt.Sprintf("%s: expected number, got %T", loc, v)}
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return []string{fmt.Sprintf("%s: expected boolean, got %T", loc, v)}
		}
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return []string{fmt.Sprintf("%s: expected object, got %T", loc, v)}
		}
		var failures []string
		for _, req := range s.Required {
			if _, present := obj[req]; !present {
				failures = append(failures, fmt.Sprintf("%s: missing required field %q", loc, req))
			}
		}
		for name, propSchema := range s.Properties {
			val, present := obj[name]
			if !present || propSchema == nil {
				continue
			}
			failures = append(failures, validateValue(propSchema, val, joinPath(path, name))...)
		}
		return failures
	case "array":
		arr, ok := v.([]any)
		if !ok {
			return []string{fmt.Sprintf("%s: expected array, got %T", loc, v)}
		}
		if s.Items == nil {
			return nil
		}
		var failures []string
		for i, elem := range arr {
			failures = append(failures, validateValue(s.Items, elem, fmt.Sprintf("%s[%d]", path, i))...)
		}
		return failures
	default:
		return []string{fmt.Sprintf("%s: unknown schema type %q", loc, s.Type)}
	}
	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
