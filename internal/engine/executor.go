package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rendis/flowop/internal/events"
	"github.com/rendis/flowop/internal/hooks"
	"github.com/rendis/flowop/internal/skip"
	"github.com/rendis/flowop/pkg/schema"
)

// StepResult is the outcome of executing one step.
type StepResult struct {
	StepID     string            `json:"stepId"`
	Status     schema.StepStatus `json:"status"`
	Output     any               `json:"output,omitempty"`
	Error      *schema.FlowError `json:"error,omitempty"`
	HookError  *schema.FlowError `json:"hookError,omitempty"` // non-fatal after-hook failure
	Attempts   int               `json:"attempts,omitempty"`
	RetryCount int               `json:"retryCount"`
}

// Body is the function executed as the step's work, under the retry policy.
type Body func(ctx context.Context, step *schema.Step, input any) (any, error)

// StepExecutor runs one step through the full pipeline: cancellation check,
// skip policy, before-hooks, retried body, after-hooks, output commit.
type StepExecutor struct {
	bus        *events.Bus
	hooks      *hooks.Manager
	skips      *skip.Evaluator
	workflowID string
	instanceID string
	logger     *slog.Logger

	mu        sync.Mutex
	cancelled map[string]bool
}

// NewStepExecutor creates a per-instance StepExecutor.
func NewStepExecutor(bus *events.Bus, hm *hooks.Manager, se *skip.Evaluator, workflowID, instanceID string, logger *slog.Logger) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{
		bus:        bus,
		hooks:      hm,
		skips:      se,
		workflowID: workflowID,
		instanceID: instanceID,
		logger:     logger,
		cancelled:  make(map[string]bool),
	}
}

// CancelStep marks a step cancelled. Subsequent attempts and retry sleeps
// observe the flag and terminate with a cancellation failure.
func (e *StepExecutor) CancelStep(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[stepID] = true
}

// IsCancelled reports whether a step was marked cancelled.
func (e *StepExecutor) IsCancelled(stepID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[stepID]
}

// ExecuteStep runs the pipeline for one step. It never returns nil.
func (e *StepExecutor) ExecuteStep(ctx context.Context, step *schema.Step, wctx schema.Context, input any, body Body) *StepResult {
	if e.IsCancelled(step.ID) || ctx.Err() != nil {
		return e.failCancelled(step.ID, 0)
	}

	// Skip policy.
	if step.Skip != nil && e.skips.ShouldSkip(ctx, step.ID, step.Skip, wctx) {
		reason := step.Skip.Expression
		if reason == "" {
			reason = "skip condition met"
		}
		e.emit(schema.EventStepSkipped, step.ID, map[string]any{"reason": reason})
		wctx.SetStepOutput(step.ID, step.Skip.DefaultOutput)
		return &StepResult{StepID: step.ID, Status: schema.StepStatusSkipped, Output: step.Skip.DefaultOutput}
	}

	// Before-hooks: a failure aborts the step without running the body.
	effectiveInput, err := e.hooks.ExecuteBefore(ctx, step.ID, input, wctx, step.Hooks)
	if err != nil {
		ferr := asFlowError(err, step.ID)
		e.emit(schema.EventStepFailed, step.ID, map[string]any{
			"error": ferr.Error(),
			"phase": "beforeHook",
		})
		return &StepResult{StepID: step.ID, Status: schema.StepStatusFailed, Error: ferr}
	}

	// Body under retry policy.
	maxRetries := 0
	if step.Retry != nil && step.Retry.MaxRetries > 0 {
		maxRetries = step.Retry.MaxRetries
	}

	e.emit(schema.EventStepStarted, step.ID, map[string]any{"attempt": 1})

	var output any
	var lastErr *schema.FlowError
	attempt := 1
	for {
		output, err = e.runBody(ctx, step, effectiveInput, body)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = asFlowError(err, step.ID)

		if e.IsCancelled(step.ID) || ctx.Err() != nil {
			return e.failCancelled(step.ID, attempt-1)
		}
		if attempt > maxRetries || !IsRetryable(lastErr) {
			e.emit(schema.EventStepFailed, step.ID, map[string]any{
				"error":      lastErr.Error(),
				"retryCount": attempt - 1,
				"maxRetries": maxRetries,
			})
			return &StepResult{
				StepID:     step.ID,
				Status:     schema.StepStatusFailed,
				Error:      lastErr,
				Attempts:   attempt,
				RetryCount: attempt - 1,
			}
		}

		if werr := WaitForBackoff(ctx, ComputeBackoff(step.Retry, attempt)); werr != nil {
			return e.failCancelled(step.ID, attempt-1)
		}
		if e.IsCancelled(step.ID) {
			return e.failCancelled(step.ID, attempt-1)
		}

		attempt++
		e.emit(schema.EventStepRetrying, step.ID, map[string]any{
			"attempt":    attempt,
			"maxRetries": maxRetries,
			"lastError":  lastErr.Error(),
		})
	}

	e.emit(schema.EventStepCompleted, step.ID, map[string]any{
		"output":     output,
		"retryCount": attempt - 1,
	})

	// After-hooks never change the result; the first failure is carried as
	// a non-fatal warning.
	hookErr := e.hooks.ExecuteAfter(ctx, step.ID, effectiveInput, output, wctx, step.Hooks)

	wctx.SetStepOutput(step.ID, output)
	return &StepResult{
		StepID:     step.ID,
		Status:     schema.StepStatusSuccess,
		Output:     output,
		HookError:  hookErr,
		Attempts:   attempt,
		RetryCount: attempt - 1,
	}
}

// runBody invokes the body, wrapping panics and raw errors as STEP_EXECUTION.
func (e *StepExecutor) runBody(ctx context.Context, step *schema.Step, input any, body Body) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeStepExecution, "step body panicked: %v", r).WithStep(step.ID)
		}
	}()
	out, err = body(ctx, step, input)
	if err != nil {
		err = asFlowError(err, step.ID)
	}
	return out, err
}

func (e *StepExecutor) failCancelled(stepID string, retries int) *StepResult {
	ferr := schema.NewError(schema.ErrCodeCancelled, "step cancelled").WithStep(stepID)
	e.emit(schema.EventStepFailed, stepID, map[string]any{
		"error":      ferr.Error(),
		"retryCount": retries,
	})
	return &StepResult{
		StepID:     stepID,
		Status:     schema.StepStatusFailed,
		Error:      ferr,
		RetryCount: retries,
	}
}

func (e *StepExecutor) emit(eventType, stepID string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(&schema.Event{
		Type:       eventType,
		WorkflowID: e.workflowID,
		InstanceID: e.instanceID,
		StepID:     stepID,
		Payload:    payload,
	})
}

// asFlowError normalizes an error to a FlowError with the step attached.
func asFlowError(err error, stepID string) *schema.FlowError {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if fe.StepID == "" {
			fe.StepID = stepID
		}
		return fe
	}
	return schema.NewErrorf(schema.ErrCodeStepExecution, "%s", err.Error()).WithStep(stepID).WithCause(err)
}
