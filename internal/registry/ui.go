package registry

import (
	"sort"
	"sync"

	"github.com/rendis/flowop/pkg/schema"
)

// UIRegistry is a thread-safe name-indexed catalog of UI components.
type UIRegistry struct {
	mu         sync.RWMutex
	components map[string]*schema.UIComponentDefinition
}

// NewUIRegistry creates an empty UIRegistry.
func NewUIRegistry() *UIRegistry {
	return &UIRegistry{components: make(map[string]*schema.UIComponentDefinition)}
}

// Register adds a UI component. Registering a duplicate ID fails.
func (r *UIRegistry) Register(comp *schema.UIComponentDefinition) error {
	if comp == nil {
		return schema.NewError(schema.ErrCodeValidation, "UI component is nil")
	}
	if comp.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "UI component ID is empty")
	}
	if len(comp.SupportedModes) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "UI component %q supports no modes", comp.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[comp.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "UI component %q already registered", comp.ID)
	}
	r.components[comp.ID] = comp
	return nil
}

// Unregister removes a component. Returns false if the ID is unknown.
func (r *UIRegistry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[id]; !exists {
		return false
	}
	delete(r.components, id)
	return true
}

// Get retrieves a component by ID.
func (r *UIRegistry) Get(id string) (*schema.UIComponentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	comp, ok := r.components[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUINotFound, "UI component %q not registered", id)
	}
	return comp, nil
}

// Has checks if a component is registered.
func (r *UIRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.components[id]
	return ok
}

// List returns metadata for all registered components, sorted by ID.
func (r *UIRegistry) List() []schema.UIComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]schema.UIComponentInfo, 0, len(r.components))
	for _, c := range r.components {
		infos = append(infos, schema.UIComponentInfo{
			ID:             c.ID,
			Name:           c.Name,
			Description:    c.Description,
			SupportedModes: c.SupportedModes,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Size returns the number of registered components.
func (r *UIRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// Clear removes all registered components.
func (r *UIRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = make(map[string]*schema.UIComponentDefinition)
}
