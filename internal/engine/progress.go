package engine

import (
	"github.com/rendis/flowop/internal/events"
	"github.com/rendis/flowop/pkg/schema"
)

// ProgressTracker emits the external progress views: aggregate percentage
// updates and the per-step status bar.
type ProgressTracker struct {
	bus        *events.Bus
	workflowID string
	instanceID string
	total      int
}

// NewProgressTracker creates a tracker for a definition with total steps.
func NewProgressTracker(bus *events.Bus, workflowID, instanceID string, total int) *ProgressTracker {
	return &ProgressTracker{bus: bus, workflowID: workflowID, instanceID: instanceID, total: total}
}

// Percentage computes completed/total as a whole percentage.
func (p *ProgressTracker) Percentage(completed int) int {
	if p.total == 0 {
		return 0
	}
	return completed * 100 / p.total
}

// EmitProgress publishes a ProgressUpdate after a step reached a terminal
// status.
func (p *ProgressTracker) EmitProgress(currentStep string, completed int) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(&schema.Event{
		Type:       schema.EventProgressUpdated,
		WorkflowID: p.workflowID,
		InstanceID: p.instanceID,
		StepID:     currentStep,
		Payload: map[string]any{
			"currentStep":    currentStep,
			"totalSteps":     p.total,
			"completedSteps": completed,
			"percentage":     p.Percentage(completed),
		},
	})
}

// EmitStepBar publishes the full step-bar view. entries must cover every
// step of the definition, in definition order.
func (p *ProgressTracker) EmitStepBar(entries []schema.StepBarEntry, activeStepID string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(&schema.Event{
		Type:       schema.EventStepBarUpdated,
		WorkflowID: p.workflowID,
		InstanceID: p.instanceID,
		Payload: map[string]any{
			"steps":        entries,
			"activeStepId": activeStepID,
		},
	})
}
