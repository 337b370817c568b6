package registry

import (
	"sort"
	"sync"

	"github.com/rendis/flowop/pkg/schema"
)

// ToolRegistry is a thread-safe name-indexed catalog of tool definitions.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*schema.ToolDefinition
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*schema.ToolDefinition)}
}

// Register adds a tool. Registering a duplicate ID fails, it never overwrites.
func (r *ToolRegistry) Register(tool *schema.ToolDefinition) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	if tool.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool ID is empty")
	}
	if tool.Mode == "" {
		tool.Mode = schema.ToolModeSync
	}
	if tool.Mode == schema.ToolModeSync && tool.Execute == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "sync tool %q has no executor", tool.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", tool.ID)
	}
	r.tools[tool.ID] = tool
	return nil
}

// Unregister removes a tool. Returns false if the ID is unknown.
func (r *ToolRegistry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[id]; !exists {
		return false
	}
	delete(r.tools, id)
	return true
}

// Get retrieves a tool by ID.
func (r *ToolRegistry) Get(id string) (*schema.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeToolNotFound, "tool %q not registered", id)
	}
	return tool, nil
}

// Has checks if a tool is registered.
func (r *ToolRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// List returns metadata for all registered tools, sorted by ID.
func (r *ToolRegistry) List() []schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, schema.ToolInfo{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Mode:        t.Mode,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Size returns the number of registered tools.
func (r *ToolRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clear removes all registered tools.
func (r *ToolRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]*schema.ToolDefinition)
}
