package registry

import (
	"sort"
	"sync"

	"github.com/rendis/flowop/pkg/schema"
)

// StepTypeRegistry is a metadata-only catalog of step types, used by
// external editors to introspect what a definition may contain.
type StepTypeRegistry struct {
	mu    sync.RWMutex
	types map[string]schema.StepTypeDefinition
}

// NewStepTypeRegistry creates a registry pre-seeded with the built-in
// task, ui, and tool step types.
func NewStepTypeRegistry() *StepTypeRegistry {
	r := &StepTypeRegistry{types: make(map[string]schema.StepTypeDefinition)}
	for _, st := range []schema.StepTypeDefinition{
		{ID: string(schema.StepTypeTask), Name: "Task", Description: "Pass-through or custom-bodied step"},
		{ID: string(schema.StepTypeUI), Name: "UI", Description: "Human interaction step"},
		{ID: string(schema.StepTypeTool), Name: "Tool", Description: "Tool invocation step"},
	} {
		r.types[st.ID] = st
	}
	return r
}

// Register adds a step type. Registering a duplicate ID fails.
func (r *StepTypeRegistry) Register(st schema.StepTypeDefinition) error {
	if st.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step type ID is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[st.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step type %q already registered", st.ID)
	}
	r.types[st.ID] = st
	return nil
}

// Has checks if a step type is registered.
func (r *StepTypeRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[id]
	return ok
}

// List returns all registered step types, sorted by ID.
func (r *StepTypeRegistry) List() []schema.StepTypeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schema.StepTypeDefinition, 0, len(r.types))
	for _, st := range r.types {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
