package ui

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/flowop/internal/events"
	"github.com/rendis/flowop/internal/registry"
	"github.com/rendis/flowop/internal/waits"
	"github.com/rendis/flowop/pkg/schema"
)

// DefaultDisplayTimeout is the auto-advance delay for display-mode
// interactions without an explicit timeout.
const DefaultDisplayTimeout = 3000 * time.Millisecond

// Response is the outcome of one UI interaction.
type Response struct {
	Success        bool              `json:"success"`
	Response       any               `json:"response,omitempty"`
	SelectedOption string            `json:"selectedOption,omitempty"`
	AutoCompleted  bool              `json:"autoCompleted,omitempty"`
	Error          *schema.FlowError `json:"error,omitempty"`
}

// Handler drives human interactions: display renders and auto-advances,
// confirm and select suspend on the wait manager until RespondToUI or
// timeout. Interactions for different steps may be pending simultaneously.
type Handler struct {
	registry   *registry.UIRegistry
	bus        *events.Bus
	waits      *waits.Manager
	workflowID string
	instanceID string
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*schema.UIConfig // stepID → config of pending confirm/select
}

// NewHandler creates a per-instance UI Handler.
func NewHandler(reg *registry.UIRegistry, bus *events.Bus, wm *waits.Manager, workflowID, instanceID string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:   reg,
		bus:        bus,
		waits:      wm,
		workflowID: workflowID,
		instanceID: instanceID,
		logger:     logger,
		pending:    make(map[string]*schema.UIConfig),
	}
}

// HandleInteraction runs one UI interaction for a step. It never returns nil.
func (h *Handler) HandleInteraction(ctx context.Context, stepID string, cfg *schema.UIConfig, wctx schema.Context) *Response {
	comp, err := h.registry.Get(cfg.ComponentID)
	if err != nil {
		var fe *schema.FlowError
		errors.As(err, &fe)
		return &Response{Error: fe}
	}

	if !supportsMode(comp, cfg.Mode) {
		return &Response{Error: schema.NewErrorf(schema.ErrCodeValidation,
			"UI component %q does not support mode %q", cfg.ComponentID, cfg.Mode).WithStep(stepID)}
	}

	switch cfg.Mode {
	case schema.UIModeDisplay:
		return h.handleDisplay(ctx, stepID, cfg, comp, wctx)
	case schema.UIModeConfirm:
		return h.handleInteractive(ctx, stepID, cfg, comp, wctx)
	case schema.UIModeSelect:
		if len(cfg.Options) == 0 {
			return &Response{Error: schema.NewError(schema.ErrCodeValidation,
				"select interaction has no options").WithStep(stepID)}
		}
		return h.handleInteractive(ctx, stepID, cfg, comp, wctx)
	default:
		return &Response{Error: schema.NewErrorf(schema.ErrCodeValidation,
			"unknown UI mode %q", cfg.Mode).WithStep(stepID)}
	}
}

// handleDisplay renders, waits for the auto-advance timeout, and completes
// with the renderer's response. Renderer errors are swallowed: display is
// best-effort.
func (h *Handler) handleDisplay(ctx context.Context, stepID string, cfg *schema.UIConfig, comp *schema.UIComponentDefinition, wctx schema.Context) *Response {
	h.emitRender(stepID, cfg)

	var userResponse any
	if rendered := h.render(ctx, stepID, comp, cfg, wctx); rendered != nil {
		userResponse = rendered.UserResponse
	}

	timeout := DefaultDisplayTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return &Response{Error: schema.NewError(schema.ErrCodeCancelled, "UI interaction cancelled").WithStep(stepID)}
	}

	h.emitResponse(stepID, map[string]any{
		"response":      userResponse,
		"autoCompleted": true,
	})
	return &Response{Success: true, Response: userResponse, AutoCompleted: true}
}

// handleInteractive renders for side effect and suspends until an external
// response, cancellation, or timeout.
func (h *Handler) handleInteractive(ctx context.Context, stepID string, cfg *schema.UIConfig, comp *schema.UIComponentDefinition, wctx schema.Context) *Response {
	h.mu.Lock()
	if _, exists := h.pending[stepID]; exists {
		h.mu.Unlock()
		return &Response{Error: schema.NewErrorf(schema.ErrCodeConflict,
			"step %s already has a pending interaction", stepID).WithStep(stepID)}
	}
	h.pending[stepID] = cfg
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, stepID)
		h.mu.Unlock()
	}()

	h.emitRender(stepID, cfg)
	h.render(ctx, stepID, comp, cfg, wctx)

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	ch, err := h.waits.StartWait(stepID, schema.WaitKindUI, cfg.ComponentID, timeout, nil)
	if err != nil {
		var fe *schema.FlowError
		errors.As(err, &fe)
		return &Response{Error: fe}
	}

	select {
	case res := <-ch:
		return h.finishInteractive(stepID, cfg, res)
	case <-ctx.Done():
		h.waits.CancelWait(stepID, "UI interaction cancelled")
		<-ch
		return &Response{Error: schema.NewError(schema.ErrCodeCancelled, "UI interaction cancelled").WithStep(stepID)}
	}
}

// finishInteractive translates a wait resolution into a Response, emitting
// the matching UIResponse event.
func (h *Handler) finishInteractive(stepID string, cfg *schema.UIConfig, res waits.Result) *Response {
	if res.Err != nil {
		var fe *schema.FlowError
		if !errors.As(res.Err, &fe) {
			fe = schema.NewError(schema.ErrCodeStepExecution, res.Err.Error()).WithStep(stepID)
		}
		switch fe.Code {
		case schema.ErrCodeTimeout:
			h.emitResponse(stepID, map[string]any{"timeout": true})
		case schema.ErrCodeCancelled:
			h.emitResponse(stepID, map[string]any{"cancelled": true})
		}
		return &Response{Error: fe}
	}

	render, _ := res.Value.(*schema.UIRenderResult)
	if render == nil {
		render = &schema.UIRenderResult{Rendered: true}
	}

	h.emitResponse(stepID, map[string]any{
		"response":       render.UserResponse,
		"selectedOption": render.SelectedOption,
	})
	return &Response{
		Success:        true,
		Response:       render.UserResponse,
		SelectedOption: render.SelectedOption,
	}
}

// RespondToUI resolves a pending confirm/select interaction. For select
// mode the selected option must be one of the declared option IDs;
// otherwise the interaction fails with "invalid option".
func (h *Handler) RespondToUI(stepID string, result *schema.UIRenderResult) error {
	h.mu.Lock()
	cfg, ok := h.pending[stepID]
	h.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no pending interaction for step %s", stepID)
	}
	if result == nil {
		result = &schema.UIRenderResult{Rendered: true}
	}

	if cfg.Mode == schema.UIModeSelect && !validOption(cfg, result.SelectedOption) {
		ferr := schema.NewErrorf(schema.ErrCodeValidation,
			"invalid option %q", result.SelectedOption).WithStep(stepID)
		h.waits.FailWait(stepID, ferr)
		return ferr
	}

	if !h.waits.ResumeWait(stepID, result) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no active wait for step %s", stepID)
	}
	return nil
}

// CancelPendingInteraction rejects a pending interaction.
func (h *Handler) CancelPendingInteraction(stepID string) bool {
	h.mu.Lock()
	_, ok := h.pending[stepID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return h.waits.CancelWait(stepID, "UI interaction cancelled")
}

// PendingCount returns the number of pending confirm/select interactions.
func (h *Handler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// render invokes the component renderer, swallowing errors and panics.
func (h *Handler) render(ctx context.Context, stepID string, comp *schema.UIComponentDefinition, cfg *schema.UIConfig, wctx schema.Context) *schema.UIRenderResult {
	if comp.Render == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("UI renderer panicked",
				slog.String("step_id", stepID),
				slog.String("component_id", comp.ID),
				slog.Any("panic", r))
		}
	}()
	out, err := comp.Render(ctx, cfg, wctx)
	if err != nil {
		h.logger.Warn("UI renderer failed",
			slog.String("step_id", stepID),
			slog.String("component_id", comp.ID),
			slog.String("error", err.Error()))
		return nil
	}
	return out
}

func (h *Handler) emitRender(stepID string, cfg *schema.UIConfig) {
	payload := map[string]any{
		"componentId": cfg.ComponentID,
		"mode":        string(cfg.Mode),
	}
	if cfg.Data != nil {
		payload["data"] = cfg.Data
	}
	if cfg.TimeoutMs > 0 {
		payload["timeout"] = cfg.TimeoutMs
	}
	if len(cfg.Options) > 0 {
		payload["options"] = cfg.Options
	}
	h.emit(schema.EventUIRender, stepID, payload)
}

func (h *Handler) emitResponse(stepID string, payload map[string]any) {
	h.emit(schema.EventUIResponse, stepID, payload)
}

func (h *Handler) emit(eventType, stepID string, payload map[string]any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(&schema.Event{
		Type:       eventType,
		WorkflowID: h.workflowID,
		InstanceID: h.instanceID,
		StepID:     stepID,
		Payload:    payload,
	})
}

func supportsMode(comp *schema.UIComponentDefinition, mode schema.UIMode) bool {
	for _, m := range comp.SupportedModes {
		if m == mode {
			return true
		}
	}
	return false
}

func validOption(cfg *schema.UIConfig, optionID string) bool {
	for _, opt := range cfg.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}
