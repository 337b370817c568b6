package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rendis/flowop/pkg/schema"
)

// Manager runs the before/after hook pipelines around step execution.
// Global hooks are process-level; step hooks arrive per call. Order is
// insertion order: before = global ++ step, after = step ++ global.
type Manager struct {
	mu           sync.RWMutex
	globalBefore []schema.Hook
	globalAfter  []schema.Hook
	logger       *slog.Logger
}

// NewManager creates an empty Manager. logger may be nil.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// AddGlobalBefore appends a global before-hook. Duplicate IDs are silently
// ignored on re-add.
func (m *Manager) AddGlobalBefore(hook schema.Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if containsHook(m.globalBefore, hook.ID) {
		return
	}
	m.globalBefore = append(m.globalBefore, hook)
}

// AddGlobalAfter appends a global after-hook. Duplicate IDs are silently
// ignored on re-add.
func (m *Manager) AddGlobalAfter(hook schema.Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if containsHook(m.globalAfter, hook.ID) {
		return
	}
	m.globalAfter = append(m.globalAfter, hook)
}

// RemoveGlobal removes a global hook by ID from both lists. Returns whether
// anything was removed.
func (m *Manager) RemoveGlobal(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := false
	m.globalBefore, removed = removeHook(m.globalBefore, id, removed)
	m.globalAfter, removed = removeHook(m.globalAfter, id, removed)
	return removed
}

// GlobalCounts returns the number of registered global before/after hooks.
func (m *Manager) GlobalCounts() (before, after int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.globalBefore), len(m.globalAfter)
}

// ExecuteBefore runs globalBefore ++ stepHooks.Before in order. Each hook
// may replace the input; the replacement is seen by subsequent hooks and is
// returned for the step body. If any hook fails, the chain aborts and a
// HOOK_EXECUTION error (phase before) is returned with the input as it
// stood when the chain stopped.
func (m *Manager) ExecuteBefore(ctx context.Context, stepID string, input any, wctx schema.Context, stepHooks *schema.HookSet) (any, error) {
	m.mu.RLock()
	chain := make([]schema.Hook, 0, len(m.globalBefore))
	chain = append(chain, m.globalBefore...)
	m.mu.RUnlock()

	if stepHooks != nil {
		chain = append(chain, stepHooks.Before...)
	}

	current := input
	for _, hook := range chain {
		if hook.Fn == nil {
			continue
		}
		hc := &schema.HookContext{StepID: stepID, Input: current, Ctx: wctx}
		if err := hook.Fn(ctx, hc); err != nil {
			return current, schema.NewErrorf(schema.ErrCodeHookExecution,
				"before hook %q failed: %s", hook.ID, err.Error()).
				WithStep(stepID).
				WithCause(err).
				WithDetails(map[string]any{"hookId": hook.ID, "phase": "before"})
		}
		current = hc.Input
	}
	return current, nil
}

// ExecuteAfter runs stepHooks.After ++ globalAfter in order. Hook failures
// are collected and never abort the chain or change the step result; the
// first collected failure is returned as a warning-level HOOK_EXECUTION
// error (phase after), or nil when every hook succeeded.
func (m *Manager) ExecuteAfter(ctx context.Context, stepID string, input, output any, wctx schema.Context, stepHooks *schema.HookSet) *schema.FlowError {
	chain := make([]schema.Hook, 0)
	if stepHooks != nil {
		chain = append(chain, stepHooks.After...)
	}
	m.mu.RLock()
	chain = append(chain, m.globalAfter...)
	m.mu.RUnlock()

	var first *schema.FlowError
	for _, hook := range chain {
		if hook.Fn == nil {
			continue
		}
		hc := &schema.HookContext{StepID: stepID, Input: input, Output: output, HasOutput: true, Ctx: wctx}
		if err := m.runAfterHook(ctx, hook, hc); err != nil {
			m.logger.Warn("after hook failed",
				slog.String("step_id", stepID),
				slog.String("hook_id", hook.ID),
				slog.String("error", err.Error()))
			if first == nil {
				first = schema.NewErrorf(schema.ErrCodeHookExecution,
					"after hook %q failed: %s", hook.ID, err.Error()).
					WithStep(stepID).
					WithCause(err).
					WithDetails(map[string]any{"hookId": hook.ID, "phase": "after"})
			}
		}
	}
	return first
}

// runAfterHook isolates panics so one misbehaving after-hook cannot take
// down the chain.
func (m *Manager) runAfterHook(ctx context.Context, hook schema.Hook, hc *schema.HookContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.Fn(ctx, hc)
}

func containsHook(hooks []schema.Hook, id string) bool {
	for _, h := range hooks {
		if h.ID == id {
			return true
		}
	}
	return false
}

func removeHook(hooks []schema.Hook, id string, already bool) ([]schema.Hook, bool) {
	for i, h := range hooks {
		if h.ID == id {
			return append(hooks[:i], hooks[i+1:]...), true
		}
	}
	return hooks, already
}
