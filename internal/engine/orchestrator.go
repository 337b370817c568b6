package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowop/internal/events"
	"github.com/rendis/flowop/internal/execctx"
	"github.com/rendis/flowop/internal/expressions"
	"github.com/rendis/flowop/internal/hooks"
	"github.com/rendis/flowop/internal/logging"
	"github.com/rendis/flowop/internal/registry"
	"github.com/rendis/flowop/internal/skip"
	toolsvc "github.com/rendis/flowop/internal/tools"
	"github.com/rendis/flowop/internal/ui"
	"github.com/rendis/flowop/internal/validation"
	"github.com/rendis/flowop/internal/waits"
	"github.com/rendis/flowop/pkg/schema"
)

// DefaultPoolSize is the default max number of concurrently running steps.
const DefaultPoolSize = 10

// defaultTick is the main loop's idle sleep while paused or starved.
const defaultTick = 10 * time.Millisecond

// Config holds engine configuration.
type Config struct {
	PoolSize     int
	TickInterval time.Duration
	Logger       *slog.Logger
}

// WorkflowResult is returned by Start with the terminal outcome.
type WorkflowResult struct {
	InstanceID   string                `json:"instanceId"`
	Status       schema.WorkflowStatus `json:"status"`
	Context      *execctx.Snapshot     `json:"context,omitempty"`
	Error        *schema.FlowError     `json:"error,omitempty"`
	FailedStepID string                `json:"failedStepId,omitempty"`
	StartedAt    time.Time             `json:"startedAt"`
	EndedAt      time.Time             `json:"endedAt"`
}

// Engine is the workflow orchestrator: it loads a definition, drives the
// main scheduling loop, and exposes every caller entry point. Registries
// and the hook manager live for the engine's lifetime; DAG, context, wait
// manager, invoker, and UI handler are rebuilt per loaded instance.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	bus         *events.Bus
	toolReg     *registry.ToolRegistry
	uiReg       *registry.UIRegistry
	stepTypeReg *registry.StepTypeRegistry
	hooks       *hooks.Manager
	exprs       *expressions.Evaluator
	skips       *skip.Evaluator
	pool        *StepPool

	mu         sync.RWMutex
	def        *schema.Definition
	dag        *DAG
	instanceID string
	wctx       *execctx.Context
	waits      *waits.Manager
	invoker    *toolsvc.Invoker
	uiHandler  *ui.Handler
	stepExec   *StepExecutor
	progress   *ProgressTracker

	status          schema.WorkflowStatus
	completed       map[string]bool
	failed          map[string]bool
	cancelRequested bool
	runCancel       context.CancelFunc

	stateMu      sync.Mutex
	states       map[string]*schema.StepRuntimeState
	activeStepID string
}

// New creates an Engine with empty registries and no loaded workflow.
func New(cfg Config) *Engine {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTick
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		bus:         events.NewBus(logger),
		toolReg:     registry.NewToolRegistry(),
		uiReg:       registry.NewUIRegistry(),
		stepTypeReg: registry.NewStepTypeRegistry(),
		hooks:       hooks.NewManager(logger),
		exprs:       expressions.NewEvaluator(),
		pool:        NewStepPool(cfg.PoolSize),
		status:      schema.WorkflowStatusIdle,
	}
	e.skips = skip.NewEvaluator(e.exprs, logger)
	return e
}

// LoadWorkflow validates a definition, builds its DAG, and prepares a fresh
// instance. The definition is immutable after load.
func (e *Engine) LoadWorkflow(def *schema.Definition) error {
	if err := validation.ValidateDefinition(def); err != nil {
		return err
	}
	dag, err := BuildDAG(def)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == schema.WorkflowStatusRunning || e.status == schema.WorkflowStatusPaused {
		return schema.NewError(schema.ErrCodeConflict, "cannot load while an instance is running")
	}

	instanceID := uuid.NewString()
	e.def = def
	e.dag = dag
	e.instanceID = instanceID
	e.wctx = execctx.New()
	e.waits = waits.NewManager(e.bus, e, def.ID, instanceID, e.logger)
	e.invoker = toolsvc.NewInvoker(e.toolReg, e.bus, e.waits, def.ID, instanceID, e.logger)
	e.uiHandler = ui.NewHandler(e.uiReg, e.bus, e.waits, def.ID, instanceID, e.logger)
	e.stepExec = NewStepExecutor(e.bus, e.hooks, e.skips, def.ID, instanceID, e.logger)
	e.progress = NewProgressTracker(e.bus, def.ID, instanceID, len(def.Steps))
	e.completed = make(map[string]bool)
	e.failed = make(map[string]bool)
	e.cancelRequested = false
	e.status = schema.WorkflowStatusIdle

	e.stateMu.Lock()
	e.states = make(map[string]*schema.StepRuntimeState, len(def.Steps))
	for _, step := range def.Steps {
		e.states[step.ID] = &schema.StepRuntimeState{StepID: step.ID, Status: schema.StepStatusPending}
	}
	e.activeStepID = ""
	e.stateMu.Unlock()

	// Definition-scoped global hooks.
	if def.GlobalHooks != nil {
		for _, h := range def.GlobalHooks.Before {
			e.hooks.AddGlobalBefore(h)
		}
		for _, h := range def.GlobalHooks.After {
			e.hooks.AddGlobalAfter(h)
		}
	}
	return nil
}

// Start runs the loaded workflow to completion and returns the terminal
// result. initialGlobals seeds the context globals before the first step.
func (e *Engine) Start(initialGlobals map[string]any) (*WorkflowResult, error) {
	e.mu.Lock()
	if e.def == nil {
		e.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow loaded")
	}
	if e.status == schema.WorkflowStatusRunning || e.status == schema.WorkflowStatusPaused {
		e.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "workflow already running")
	}

	for k, v := range initialGlobals {
		e.wctx.SetGlobal(k, v)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.runCancel = cancel
	e.status = schema.WorkflowStatusRunning
	startedAt := time.Now().UTC()
	def := e.def
	e.mu.Unlock()

	e.bus.Publish(&schema.Event{
		Type:       schema.EventWorkflowStarted,
		WorkflowID: def.ID,
		InstanceID: e.instanceID,
		Payload: map[string]any{
			"totalSteps": len(def.Steps),
			"startTime":  startedAt,
		},
	})

	e.runLoop(runCtx)
	cancel()

	return e.finish(def, startedAt), nil
}

// runLoop drives the frontier: fan out every ready step, await the batch,
// recompute. Output commits happen inside the batch, so the frontier only
// advances after all of a batch's commits are visible.
func (e *Engine) runLoop(ctx context.Context) {
	for {
		e.mu.RLock()
		status := e.status
		cancelled := e.cancelRequested
		completedCount := len(e.completed)
		failedCount := len(e.failed)
		completedSet := make(map[string]bool, completedCount)
		for id := range e.completed {
			completedSet[id] = true
		}
		dag := e.dag
		e.mu.RUnlock()

		if cancelled || status == schema.WorkflowStatusFailed {
			return
		}
		if status == schema.WorkflowStatusPaused {
			time.Sleep(e.cfg.TickInterval)
			continue
		}
		if status != schema.WorkflowStatusRunning {
			return
		}

		ready := e.filterRunnable(ReadySteps(dag, completedSet))
		if len(ready) == 0 {
			if completedCount == len(dag.Nodes) {
				return
			}
			if failedCount > 0 {
				return
			}
			time.Sleep(e.cfg.TickInterval)
			continue
		}

		e.pool.RunBatch(ctx, ready, e.runStep)
	}
}

// filterRunnable drops steps that already reached a terminal state (the
// pure frontier does not know about failures).
func (e *Engine) filterRunnable(ready []string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := ready[:0]
	for _, id := range ready {
		if e.failed[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}

// runStep executes a single ready step, records its result, and returns
// the terminal status for the pool's outcome counters.
func (e *Engine) runStep(ctx context.Context, stepID string) schema.StepStatus {
	e.mu.RLock()
	node := e.dag.Nodes[stepID]
	wctx := e.wctx
	stepExec := e.stepExec
	workflowID := e.def.ID
	instanceID := e.instanceID
	e.mu.RUnlock()

	ctx = logging.WithIDs(ctx, workflowID, instanceID, stepID)

	e.setStepStatus(stepID, schema.StepStatusRunning, nil)
	input := e.dependencyInput(stepID)

	res := stepExec.ExecuteStep(ctx, node.Step, wctx, input, e.body)

	e.mu.Lock()
	switch res.Status {
	case schema.StepStatusSuccess, schema.StepStatusSkipped:
		e.completed[stepID] = true
	default:
		e.failed[stepID] = true
	}
	completed := len(e.completed)
	e.mu.Unlock()

	if res.Attempts > 0 {
		e.stateMu.Lock()
		if st := e.states[stepID]; st != nil {
			st.Attempts = res.Attempts
		}
		e.stateMu.Unlock()
	}
	e.setStepStatus(stepID, res.Status, res.Error)
	e.progress.EmitProgress(stepID, completed)
	return res.Status
}

// body dispatches a step's work by configuration: UI interaction first,
// then tool invocations, else pass-through.
func (e *Engine) body(ctx context.Context, step *schema.Step, input any) (any, error) {
	if step.UI != nil {
		res := e.uiHandler.HandleInteraction(ctx, step.ID, step.UI, e.wctx)
		if res.Error != nil {
			return nil, res.Error
		}
		out := map[string]any{"response": res.Response}
		if res.SelectedOption != "" {
			out["selectedOption"] = res.SelectedOption
		}
		if res.AutoCompleted {
			out["autoCompleted"] = true
		}
		return out, nil
	}

	if len(step.Tools) > 0 {
		results, ferr := e.invoker.ExecuteInvocations(ctx, step.Tools, e.wctx, step.ID)
		if ferr != nil {
			return nil, ferr
		}
		return results, nil
	}

	return input, nil
}

// dependencyInput assembles a step's input from its dependencies' outputs:
// nil for roots, the single output for one dependency, an ID-keyed map
// otherwise.
func (e *Engine) dependencyInput(stepID string) any {
	e.mu.RLock()
	deps := e.dag.Edges[stepID]
	wctx := e.wctx
	e.mu.RUnlock()

	switch len(deps) {
	case 0:
		return nil
	case 1:
		out, _ := wctx.GetStepOutput(deps[0])
		return out
	default:
		inputs := make(map[string]any, len(deps))
		for _, dep := range deps {
			out, _ := wctx.GetStepOutput(dep)
			inputs[dep] = out
		}
		return inputs
	}
}

// finish derives the terminal result, transitions the status, and emits the
// closing workflow event.
func (e *Engine) finish(def *schema.Definition, startedAt time.Time) *WorkflowResult {
	endedAt := time.Now().UTC()

	e.mu.Lock()
	completed := len(e.completed)
	cancelled := e.cancelRequested
	var failedStepID string
	var failedErr *schema.FlowError
	for id := range e.failed {
		failedStepID = id
		break
	}
	if failedStepID != "" {
		e.stateMu.Lock()
		if st := e.states[failedStepID]; st != nil {
			failedErr = st.Error
		}
		e.stateMu.Unlock()
	}

	result := &WorkflowResult{
		InstanceID: e.instanceID,
		Context:    e.wctx.Snapshot(),
		StartedAt:  startedAt,
		EndedAt:    endedAt,
	}

	if cancelled || failedStepID != "" {
		e.status = schema.WorkflowStatusFailed
		result.Status = schema.WorkflowStatusFailed
		result.FailedStepID = failedStepID
		if cancelled && failedErr == nil {
			failedErr = schema.NewError(schema.ErrCodeCancelled, "workflow cancelled")
		}
		if failedErr == nil {
			failedErr = schema.NewError(schema.ErrCodeStepExecution, "workflow failed").WithStep(failedStepID)
		}
		result.Error = failedErr
	} else {
		e.status = schema.WorkflowStatusCompleted
		result.Status = schema.WorkflowStatusCompleted
	}
	instanceID := e.instanceID
	e.mu.Unlock()

	if result.Status == schema.WorkflowStatusFailed {
		payload := map[string]any{
			"error":          result.Error.Message,
			"errorName":      result.Error.Code,
			"totalSteps":     len(def.Steps),
			"completedSteps": completed,
			"percentage":     e.progress.Percentage(completed),
			"endTime":        endedAt,
		}
		if failedStepID != "" {
			payload["failedStepId"] = failedStepID
		}
		e.bus.Publish(&schema.Event{
			Type:       schema.EventWorkflowFailed,
			WorkflowID: def.ID,
			InstanceID: instanceID,
			Payload:    payload,
		})
	} else {
		e.bus.Publish(&schema.Event{
			Type:       schema.EventWorkflowCompleted,
			WorkflowID: def.ID,
			InstanceID: instanceID,
			Payload: map[string]any{
				"totalSteps":     len(def.Steps),
				"completedSteps": completed,
				"percentage":     100,
				"endTime":        endedAt,
			},
		})
	}
	return result
}

// Pause suspends scheduling. Legal only while running; in-flight steps run
// to completion.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != schema.WorkflowStatusRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot pause in status %s", e.status)
	}
	e.status = schema.WorkflowStatusPaused
	return nil
}

// Resume continues scheduling. Legal only while paused.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != schema.WorkflowStatusPaused {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot resume in status %s", e.status)
	}
	e.status = schema.WorkflowStatusRunning
	return nil
}

// Cancel aborts the workflow: all waits fail with cancellation, in-flight
// bodies are not forcibly stopped, and no further steps are scheduled.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	if e.status != schema.WorkflowStatusRunning && e.status != schema.WorkflowStatusPaused {
		e.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot cancel in status %s", e.status)
	}
	e.cancelRequested = true
	wm := e.waits
	cancel := e.runCancel
	dag := e.dag
	stepExec := e.stepExec
	e.mu.Unlock()

	for id := range dag.Nodes {
		stepExec.CancelStep(id)
	}
	wm.CancelAllWaits("workflow cancelled")
	if cancel != nil {
		cancel()
	}
	return nil
}

// --- waits.StateSink ---

// SetWaiting marks a step as waiting for external input.
func (e *Engine) SetWaiting(stepID string, info *schema.WaitingInfo) {
	e.stateMu.Lock()
	st, ok := e.states[stepID]
	if !ok {
		e.stateMu.Unlock()
		return
	}
	st.Status = schema.StepStatusWaitingInput
	st.WaitingFor = info
	e.activeStepID = stepID
	entries, active := e.stepBarLocked()
	e.stateMu.Unlock()

	e.emitStepBar(entries, active)
}

// ClearWaiting returns a waiting step to running.
func (e *Engine) ClearWaiting(stepID string) {
	e.stateMu.Lock()
	st, ok := e.states[stepID]
	if !ok {
		e.stateMu.Unlock()
		return
	}
	st.WaitingFor = nil
	if st.Status == schema.StepStatusWaitingInput {
		st.Status = schema.StepStatusRunning
	}
	entries, active := e.stepBarLocked()
	e.stateMu.Unlock()

	e.emitStepBar(entries, active)
}

// setStepStatus records a step status transition and emits the step bar.
func (e *Engine) setStepStatus(stepID string, status schema.StepStatus, ferr *schema.FlowError) {
	now := time.Now().UTC()

	e.stateMu.Lock()
	st, ok := e.states[stepID]
	if !ok {
		e.stateMu.Unlock()
		return
	}
	st.Status = status
	switch status {
	case schema.StepStatusRunning:
		st.StartTime = &now
		st.Attempts++
		e.activeStepID = stepID
	case schema.StepStatusSuccess, schema.StepStatusFailed, schema.StepStatusSkipped:
		st.EndTime = &now
		st.Error = ferr
		if e.activeStepID == stepID {
			e.activeStepID = ""
		}
	}
	entries, active := e.stepBarLocked()
	e.stateMu.Unlock()

	e.emitStepBar(entries, active)
}

// stepBarLocked builds the step bar in definition order. Caller holds stateMu.
func (e *Engine) stepBarLocked() ([]schema.StepBarEntry, string) {
	entries := make([]schema.StepBarEntry, 0, len(e.def.Steps))
	for _, step := range e.def.Steps {
		st := e.states[step.ID]
		entries = append(entries, schema.StepBarEntry{ID: step.ID, Name: step.Name, Status: st.Status})
	}
	return entries, e.activeStepID
}

func (e *Engine) emitStepBar(entries []schema.StepBarEntry, active string) {
	if e.progress != nil {
		e.progress.EmitStepBar(entries, active)
	}
}

// --- caller entry points ---

// On subscribes a handler to the event stream, optionally filtered by type.
func (e *Engine) On(fn events.Handler, types ...string) uint64 {
	return e.bus.Subscribe(fn, types...)
}

// Off removes an event subscription.
func (e *Engine) Off(id uint64) bool {
	return e.bus.Unsubscribe(id)
}

// RespondToUI resolves a pending UI interaction.
func (e *Engine) RespondToUI(stepID string, result *schema.UIRenderResult) error {
	e.mu.RLock()
	h := e.uiHandler
	e.mu.RUnlock()
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "no workflow loaded")
	}
	return h.RespondToUI(stepID, result)
}

// RespondToTool resolves a pending async tool call with a result.
func (e *Engine) RespondToTool(stepID, toolID string, result any) bool {
	e.mu.RLock()
	inv := e.invoker
	e.mu.RUnlock()
	if inv == nil {
		return false
	}
	return inv.RespondToTool(stepID, toolID, result)
}

// RespondToToolError resolves a pending async tool call with a failure.
func (e *Engine) RespondToToolError(stepID, toolID string, toolErr error) bool {
	e.mu.RLock()
	inv := e.invoker
	e.mu.RUnlock()
	if inv == nil {
		return false
	}
	return inv.RespondToToolError(stepID, toolID, toolErr)
}

// CancelPendingInteraction rejects a pending UI interaction.
func (e *Engine) CancelPendingInteraction(stepID string) bool {
	e.mu.RLock()
	h := e.uiHandler
	e.mu.RUnlock()
	if h == nil {
		return false
	}
	return h.CancelPendingInteraction(stepID)
}

// RegisterTool adds a tool to the engine's registry.
func (e *Engine) RegisterTool(tool *schema.ToolDefinition) error {
	return e.toolReg.Register(tool)
}

// UnregisterTool removes a tool.
func (e *Engine) UnregisterTool(id string) bool {
	return e.toolReg.Unregister(id)
}

// RegisterUIComponent adds a UI component to the engine's registry.
func (e *Engine) RegisterUIComponent(comp *schema.UIComponentDefinition) error {
	return e.uiReg.Register(comp)
}

// UnregisterUIComponent removes a UI component.
func (e *Engine) UnregisterUIComponent(id string) bool {
	return e.uiReg.Unregister(id)
}

// RegisterStepType adds a step type for editor introspection.
func (e *Engine) RegisterStepType(st schema.StepTypeDefinition) error {
	return e.stepTypeReg.Register(st)
}

// AddGlobalBeforeHook registers a process-level before-hook.
func (e *Engine) AddGlobalBeforeHook(hook schema.Hook) {
	e.hooks.AddGlobalBefore(hook)
}

// AddGlobalAfterHook registers a process-level after-hook.
func (e *Engine) AddGlobalAfterHook(hook schema.Hook) {
	e.hooks.AddGlobalAfter(hook)
}

// RemoveGlobalHook removes a process-level hook by ID.
func (e *Engine) RemoveGlobalHook(id string) bool {
	return e.hooks.RemoveGlobal(id)
}

// GetStatus returns the aggregate workflow status.
func (e *Engine) GetStatus() schema.WorkflowStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// GetContext returns the live execution context as a read interface, or nil
// when nothing is loaded. The context is preserved after termination.
func (e *Engine) GetContext() schema.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.wctx == nil {
		return nil
	}
	return e.wctx
}

// ContextSnapshot returns a structural copy of the current context.
func (e *Engine) ContextSnapshot() *execctx.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.wctx == nil {
		return nil
	}
	return e.wctx.Snapshot()
}

// GetStepBarState returns the current step-bar view.
func (e *Engine) GetStepBarState() *schema.StepBarState {
	e.mu.RLock()
	loaded := e.def != nil
	e.mu.RUnlock()
	if !loaded {
		return nil
	}

	e.stateMu.Lock()
	entries, active := e.stepBarLocked()
	e.stateMu.Unlock()
	return &schema.StepBarState{Steps: entries, ActiveStepID: active}
}

// GetStepStates returns copies of the per-step runtime states.
func (e *Engine) GetStepStates() map[string]*schema.StepRuntimeState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	out := make(map[string]*schema.StepRuntimeState, len(e.states))
	for id, st := range e.states {
		cp := *st
		out[id] = &cp
	}
	return out
}

// GetRegisteredTools lists tool metadata.
func (e *Engine) GetRegisteredTools() []schema.ToolInfo {
	return e.toolReg.List()
}

// GetRegisteredUIComponents lists UI component metadata.
func (e *Engine) GetRegisteredUIComponents() []schema.UIComponentInfo {
	return e.uiReg.List()
}

// GetRegisteredStepTypes lists step types.
func (e *Engine) GetRegisteredStepTypes() []schema.StepTypeDefinition {
	return e.stepTypeReg.List()
}

// InstanceID returns the current instance's ID, or "" before load.
func (e *Engine) InstanceID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instanceID
}

// PoolMetrics returns the step pool's outcome counters.
func (e *Engine) PoolMetrics() StepPoolMetrics {
	return e.pool.Metrics()
}

// ValidateWorkflowDefinition runs the same checks as LoadWorkflow without
// touching engine state.
func (e *Engine) ValidateWorkflowDefinition(def *schema.Definition) error {
	if err := validation.ValidateDefinition(def); err != nil {
		return err
	}
	_, err := BuildDAG(def)
	return err
}

var _ waits.StateSink = (*Engine)(nil)
