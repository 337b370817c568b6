package validation

import (
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowop/pkg/schema"
)

// definitionSchemaJSON is the JSON Schema for imported workflow documents.
// Embedded as a constant to avoid filesystem dependencies.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowop.dev/schemas/definition.json",
  "type": "object",
  "required": ["id", "name", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "globalHooks": { "$ref": "#/$defs/hookSet" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "name", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "dependencies": {
          "type": "array",
          "items": { "type": "string" }
        },
        "config": { "type": "object" },
        "retryPolicy": { "$ref": "#/$defs/retry" },
        "skipPolicy": { "$ref": "#/$defs/skip" },
        "hooks": { "$ref": "#/$defs/hookSet" },
        "ui": { "$ref": "#/$defs/ui" },
        "tools": {
          "type": "array",
          "items": { "$ref": "#/$defs/tool" }
        }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["maxRetries"],
      "properties": {
        "maxRetries": { "type": "integer", "minimum": 0 },
        "retryInterval": { "type": "integer", "minimum": 0 },
        "exponentialBackoff": { "type": "boolean" },
        "backoffMultiplier": { "type": "number", "exclusiveMinimum": 0 }
      },
      "additionalProperties": false
    },
    "skip": {
      "type": "object",
      "properties": {
        "condition": { "type": "string" },
        "defaultOutput": {}
      },
      "additionalProperties": false
    },
    "hookSet": {
      "type": "object",
      "properties": {
        "before": { "type": "array", "items": { "$ref": "#/$defs/hook" } },
        "after": { "type": "array", "items": { "$ref": "#/$defs/hook" } }
      },
      "additionalProperties": false
    },
    "hook": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "source": { "type": "string" }
      },
      "additionalProperties": false
    },
    "ui": {
      "type": "object",
      "required": ["componentId", "mode"],
      "properties": {
        "componentId": { "type": "string", "minLength": 1 },
        "mode": { "type": "string", "enum": ["display", "confirm", "select"] },
        "data": { "type": "object" },
        "timeout": { "type": "integer", "minimum": 0 },
        "options": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id"],
            "properties": {
              "id": { "type": "string", "minLength": 1 },
              "label": { "type": "string" },
              "value": {},
              "nextStepId": { "type": "string" }
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "tool": {
      "type": "object",
      "required": ["toolId"],
      "properties": {
        "toolId": { "type": "string", "minLength": 1 },
        "params": { "type": "object" },
        "outputKey": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

var (
	definitionSchemaOnce sync.Once
	definitionSchema     *jsonschema.Schema
	definitionSchemaErr  error
)

// compiledDefinitionSchema compiles the embedded schema once.
func compiledDefinitionSchema() (*jsonschema.Schema, error) {
	definitionSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
		if err != nil {
			definitionSchemaErr = fmt.Errorf("unmarshal definition schema: %w", err)
			return
		}
		if err := c.AddResource("https://flowop.dev/schemas/definition.json", doc); err != nil {
			definitionSchemaErr = fmt.Errorf("add definition schema resource: %w", err)
			return
		}
		definitionSchema, definitionSchemaErr = c.Compile("https://flowop.dev/schemas/definition.json")
	})
	return definitionSchema, definitionSchemaErr
}

// ValidateDefinitionJSON validates an imported JSON document against the
// definition schema before it is decoded into engine types.
func ValidateDefinitionJSON(data []byte) error {
	compiled, err := compiledDefinitionSchema()
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "definition schema unavailable").WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON: %s", err.Error()).WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// instance-located violation messages.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
