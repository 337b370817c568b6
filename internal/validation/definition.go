package validation

import (
	"fmt"

	"github.com/rendis/flowop/pkg/schema"
)

// ValidateDefinition performs the structural checks a definition must pass
// before DAG construction: non-empty workflow ID/name, non-empty steps, and
// per-step ID/name/type presence with ID uniqueness. All problems are
// collected into one VALIDATION_ERROR carrying the detail list.
func ValidateDefinition(def *schema.Definition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	var details []string
	if def.ID == "" {
		details = append(details, "workflow id is empty")
	}
	if def.Name == "" {
		details = append(details, "workflow name is empty")
	}
	if len(def.Steps) == 0 {
		details = append(details, "workflow has no steps")
	}

	seen := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		loc := fmt.Sprintf("steps[%d]", i)
		if step.ID == "" {
			details = append(details, loc+": step id is empty")
		} else {
			if seen[step.ID] {
				details = append(details, fmt.Sprintf("%s: duplicate step id %q", loc, step.ID))
			}
			seen[step.ID] = true
		}
		if step.Name == "" {
			details = append(details, loc+": step name is empty")
		}
		if step.Type == "" {
			details = append(details, loc+": step type is empty")
		}
		if step.UI != nil {
			if step.UI.ComponentID == "" {
				details = append(details, loc+": ui componentId is empty")
			}
			if step.UI.Mode == schema.UIModeSelect && len(step.UI.Options) == 0 {
				details = append(details, loc+": select mode requires options")
			}
		}
		for j, call := range step.Tools {
			if call.ToolID == "" {
				details = append(details, fmt.Sprintf("%s.tools[%d]: toolId is empty", loc, j))
			}
		}
		if step.Retry != nil && step.Retry.MaxRetries < 0 {
			details = append(details, loc+": maxRetries must be >= 0")
		}
	}

	if len(details) == 0 {
		return nil
	}
	if len(details) == 1 {
		return schema.NewError(schema.ErrCodeValidation, details[0]).
			WithDetails(map[string]any{"violations": details})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(details)).
		WithDetails(map[string]any{"violations": details})
}
