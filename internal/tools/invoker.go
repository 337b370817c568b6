package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/flowop/internal/events"
	"github.com/rendis/flowop/internal/registry"
	"github.com/rendis/flowop/internal/waits"
	"github.com/rendis/flowop/pkg/schema"
)

// InvocationResult is the outcome of a single tool call.
type InvocationResult struct {
	ToolID     string            `json:"toolId"`
	Success    bool              `json:"success"`
	Result     any               `json:"result,omitempty"`
	Error      *schema.FlowError `json:"error,omitempty"`
	DurationMs int64             `json:"duration,omitempty"`
}

// Invoker dispatches registered tools. Sync tools run their executor inline
// racing the configured timeout; async tools suspend on the wait manager
// until an external response or timeout arrives.
type Invoker struct {
	registry   *registry.ToolRegistry
	bus        *events.Bus
	waits      *waits.Manager
	workflowID string
	instanceID string
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]string // wait key → tool ID
}

// NewInvoker creates a per-instance tool Invoker.
func NewInvoker(reg *registry.ToolRegistry, bus *events.Bus, wm *waits.Manager, workflowID, instanceID string, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry:   reg,
		bus:        bus,
		waits:      wm,
		workflowID: workflowID,
		instanceID: instanceID,
		logger:     logger,
		pending:    make(map[string]string),
	}
}

// Invoke runs one tool call on behalf of stepID (may be empty for direct
// invocations). It never returns nil.
func (inv *Invoker) Invoke(ctx context.Context, toolID string, params map[string]any, wctx schema.Context, stepID string) *InvocationResult {
	tool, err := inv.registry.Get(toolID)
	if err != nil {
		var fe *schema.FlowError
		errors.As(err, &fe)
		return &InvocationResult{ToolID: toolID, Error: fe}
	}

	if ferr := ValidateParams(tool.InputSchema, anyParams(params)); ferr != nil {
		ferr.StepID = stepID
		inv.emit(schema.EventToolFailed, stepID, map[string]any{
			"toolId": toolID,
			"error":  ferr.Error(),
		})
		return &InvocationResult{ToolID: toolID, Error: ferr}
	}

	inv.emit(schema.EventToolInvoked, stepID, map[string]any{
		"toolId": toolID,
		"params": params,
		"mode":   string(tool.Mode),
	})

	start := time.Now()
	var result any
	var ferr *schema.FlowError
	if tool.Mode == schema.ToolModeAsync {
		result, ferr = inv.invokeAsync(ctx, tool, stepID)
	} else {
		result, ferr = inv.invokeSync(ctx, tool, params, wctx, stepID)
	}
	duration := time.Since(start).Milliseconds()

	if ferr != nil {
		inv.emit(schema.EventToolFailed, stepID, map[string]any{
			"toolId":   toolID,
			"error":    ferr.Error(),
			"duration": duration,
			"mode":     string(tool.Mode),
		})
		return &InvocationResult{ToolID: toolID, Error: ferr, DurationMs: duration}
	}

	inv.emit(schema.EventToolCompleted, stepID, map[string]any{
		"toolId":   toolID,
		"result":   result,
		"duration": duration,
		"mode":     string(tool.Mode),
	})
	return &InvocationResult{ToolID: toolID, Success: true, Result: result, DurationMs: duration}
}

// invokeSync runs the executor, racing the tool timeout when configured.
func (inv *Invoker) invokeSync(ctx context.Context, tool *schema.ToolDefinition, params map[string]any, wctx schema.Context, stepID string) (any, *schema.FlowError) {
	runCtx := ctx
	var cancel context.CancelFunc
	if tool.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(tool.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := tool.Execute(runCtx, params, wctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, wrapToolError(out.err, tool.ID, stepID)
		}
		return out.value, nil
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"tool %q timed out after %dms", tool.ID, tool.TimeoutMs).
				WithStep(stepID).
				WithDetails(map[string]any{"timeoutMs": tool.TimeoutMs})
		}
		return nil, schema.NewError(schema.ErrCodeCancelled, "tool call cancelled").WithStep(stepID)
	}
}

// invokeAsync suspends until RespondToTool/RespondToToolError resolves the
// pending call, or the tool timeout fires.
func (inv *Invoker) invokeAsync(ctx context.Context, tool *schema.ToolDefinition, stepID string) (any, *schema.FlowError) {
	key := waitKey(stepID, tool.ID)

	inv.mu.Lock()
	if _, exists := inv.pending[key]; exists {
		inv.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"tool %q already has a pending call for step %s", tool.ID, stepID).WithStep(stepID)
	}
	inv.pending[key] = tool.ID
	inv.mu.Unlock()

	defer func() {
		inv.mu.Lock()
		delete(inv.pending, key)
		inv.mu.Unlock()
	}()

	timeout := time.Duration(tool.TimeoutMs) * time.Millisecond
	ch, err := inv.waits.StartWait(key, schema.WaitKindTool, tool.ID, timeout, nil)
	if err != nil {
		var fe *schema.FlowError
		errors.As(err, &fe)
		return nil, fe
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, wrapToolError(res.Err, tool.ID, stepID)
		}
		return res.Value, nil
	case <-ctx.Done():
		inv.waits.CancelWait(key, "tool call cancelled")
		<-ch // drain the single-shot resolution
		return nil, schema.NewError(schema.ErrCodeCancelled, "tool call cancelled").WithStep(stepID)
	}
}

// RespondToTool resolves a pending async call with a result.
// Returns false when no matching pending call exists.
func (inv *Invoker) RespondToTool(stepID, toolID string, result any) bool {
	key := waitKey(stepID, toolID)
	inv.mu.Lock()
	pendingTool, ok := inv.pending[key]
	inv.mu.Unlock()
	if !ok || pendingTool != toolID {
		return false
	}
	return inv.waits.ResumeWait(key, result)
}

// RespondToToolError resolves a pending async call with a failure.
func (inv *Invoker) RespondToToolError(stepID, toolID string, toolErr error) bool {
	key := waitKey(stepID, toolID)
	inv.mu.Lock()
	pendingTool, ok := inv.pending[key]
	inv.mu.Unlock()
	if !ok || pendingTool != toolID {
		return false
	}
	if toolErr == nil {
		toolErr = errors.New("tool reported failure")
	}
	return inv.waits.FailWait(key, wrapToolError(toolErr, toolID, stepID))
}

// CancelPendingCalls rejects pending async calls for a step. With toolID
// given, only that call; otherwise every pending call of the step.
func (inv *Invoker) CancelPendingCalls(stepID string, toolID ...string) int {
	inv.mu.Lock()
	keys := make([]string, 0, 1)
	for key, tid := range inv.pending {
		if len(toolID) > 0 && tid != toolID[0] {
			continue
		}
		if key == waitKey(stepID, tid) {
			keys = append(keys, key)
		}
	}
	inv.mu.Unlock()

	cancelled := 0
	for _, key := range keys {
		if inv.waits.CancelWait(key, "tool call cancelled") {
			cancelled++
		}
	}
	return cancelled
}

// ExecuteInvocations runs a step's tool invocations sequentially. On
// success with OutputKey set, the result is also deposited into globals.
// The first failure stops the batch; the results collected so far are
// returned together with the failure.
func (inv *Invoker) ExecuteInvocations(ctx context.Context, invocations []schema.ToolInvocation, wctx schema.Context, stepID string) ([]*InvocationResult, *schema.FlowError) {
	results := make([]*InvocationResult, 0, len(invocations))
	for _, call := range invocations {
		res := inv.Invoke(ctx, call.ToolID, call.Params, wctx, stepID)
		results = append(results, res)
		if !res.Success {
			return results, res.Error
		}
		if call.OutputKey != "" {
			wctx.SetGlobal(call.OutputKey, res.Result)
		}
	}
	return results, nil
}

// PendingCount returns the number of unresolved async calls.
func (inv *Invoker) PendingCount() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.pending)
}

func (inv *Invoker) emit(eventType, stepID string, payload map[string]any) {
	if inv.bus == nil {
		return
	}
	inv.bus.Publish(&schema.Event{
		Type:       eventType,
		WorkflowID: inv.workflowID,
		InstanceID: inv.instanceID,
		StepID:     stepID,
		Payload:    payload,
	})
}

// wrapToolError preserves TIMEOUT_ERROR and CANCELLED as-is and wraps
// everything else as TOOL_EXECUTION.
func wrapToolError(err error, toolID, stepID string) *schema.FlowError {
	var fe *schema.FlowError
	if errors.As(err, &fe) && (fe.Code == schema.ErrCodeTimeout || fe.Code == schema.ErrCodeCancelled) {
		return fe
	}
	return schema.NewErrorf(schema.ErrCodeToolExecution, "tool %q failed: %s", toolID, err.Error()).
		WithStep(stepID).
		WithCause(err).
		WithDetails(map[string]any{"toolId": toolID})
}

// waitKey scopes an async call's wait to its step; direct invocations
// without a step fall back to a tool-scoped key.
func waitKey(stepID, toolID string) string {
	if stepID != "" {
		return stepID
	}
	return "tool:" + toolID
}

// anyParams widens a params map for schema validation; a nil map validates
// as an empty object.
func anyParams(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	return params
}
