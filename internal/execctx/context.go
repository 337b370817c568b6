package execctx

import (
	"sync"

	"github.com/rendis/flowop/pkg/schema"
)

// Context is the per-instance execution store: step outputs and globals as
// two disjoint namespaces. All operations are safe for concurrent use;
// individual get/set calls are atomic. Distinct instances share nothing.
type Context struct {
	mu          sync.RWMutex
	stepOutputs map[string]any
	globals     map[string]any
}

// Snapshot is a structural copy of both namespaces. Mutating a snapshot
// never mutates the source context.
type Snapshot struct {
	StepOutputs map[string]any `json:"stepOutputs"`
	Globals     map[string]any `json:"globals"`
}

// New creates an empty execution context.
func New() *Context {
	return &Context{
		stepOutputs: make(map[string]any),
		globals:     make(map[string]any),
	}
}

// SetStepOutput stores a step's output.
func (c *Context) SetStepOutput(stepID string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepOutputs[stepID] = value
}

// GetStepOutput returns a step's output and whether it exists.
func (c *Context) GetStepOutput(stepID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.stepOutputs[stepID]
	return v, ok
}

// HasStepOutput reports whether a step has committed an output.
func (c *Context) HasStepOutput(stepID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.stepOutputs[stepID]
	return ok
}

// SetGlobal stores a global value.
func (c *Context) SetGlobal(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals[key] = value
}

// GetGlobal returns a global value and whether it exists.
func (c *Context) GetGlobal(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.globals[key]
	return v, ok
}

// HasGlobal reports whether a global key is set.
func (c *Context) HasGlobal(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.globals[key]
	return ok
}

// StepOutputs returns a shallow copy of the step output namespace.
func (c *Context) StepOutputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.stepOutputs)
}

// Globals returns a shallow copy of the globals namespace.
func (c *Context) Globals() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.globals)
}

// Snapshot returns a structural copy of both namespaces.
func (c *Context) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Snapshot{
		StepOutputs: copyMap(c.stepOutputs),
		Globals:     copyMap(c.globals),
	}
}

// Restore replaces both namespaces wholesale with the snapshot's content.
func (c *Context) Restore(s *Snapshot) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepOutputs = copyMap(s.StepOutputs)
	c.globals = copyMap(s.Globals)
}

// ClearStepOutputs empties the step output namespace. Administrative use
// only; normal execution never calls it.
func (c *Context) ClearStepOutputs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepOutputs = make(map[string]any)
}

// ClearGlobals empties the globals namespace. Administrative use only.
func (c *Context) ClearGlobals() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals = make(map[string]any)
}

// Clear empties both namespaces. Administrative use only.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepOutputs = make(map[string]any)
	c.globals = make(map[string]any)
}

func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

var _ schema.Context = (*Context)(nil)
