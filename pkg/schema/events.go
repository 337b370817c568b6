package schema

import "time"

// Event kind constants for the engine event stream.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepRetrying  = "step_retrying"
	EventStepSkipped   = "step_skipped"

	EventProgressUpdated = "progress_updated"
	EventStepBarUpdated  = "step_bar_updated"

	EventUIRender   = "ui_render"
	EventUIResponse = "ui_response"

	EventToolInvoked   = "tool_invoked"
	EventToolCompleted = "tool_completed"
	EventToolFailed    = "tool_failed"

	EventWaitStarted   = "wait_started"
	EventWaitTimeout   = "wait_timeout"
	EventWaitResumed   = "wait_resumed"
	EventWaitCancelled = "wait_cancelled"
)

// Event is one entry of the engine's typed event stream.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflowId"`
	InstanceID string         `json:"instanceId"`
	StepID     string         `json:"stepId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// WorkflowStatus represents the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusIdle      WorkflowStatus = "idle"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending      StepStatus = "pending"
	StepStatusRunning      StepStatus = "running"
	StepStatusWaitingInput StepStatus = "waiting_input"
	StepStatusSuccess      StepStatus = "success"
	StepStatusFailed       StepStatus = "failed"
	StepStatusSkipped      StepStatus = "skipped"
)

// WaitKind classifies what a suspended step is waiting for.
type WaitKind string

const (
	WaitKindUI     WaitKind = "ui"
	WaitKindTool   WaitKind = "tool"
	WaitKindSignal WaitKind = "signal"
)

// WaitingInfo describes the active wait of a step in WaitingInput status.
type WaitingInfo struct {
	Kind      WaitKind       `json:"kind"`
	TargetID  string         `json:"targetId"`
	StartTime time.Time      `json:"startTime"`
	TimeoutMs int64          `json:"timeout,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// StepRuntimeState is the engine-owned per-step execution record. Callers
// receive copies only.
type StepRuntimeState struct {
	StepID     string       `json:"stepId"`
	Status     StepStatus   `json:"status"`
	Attempts   int          `json:"attempts"`
	StartTime  *time.Time   `json:"startTime,omitempty"`
	EndTime    *time.Time   `json:"endTime,omitempty"`
	Error      *FlowError   `json:"error,omitempty"`
	WaitingFor *WaitingInfo `json:"waitingFor,omitempty"`
}

// StepBarEntry is one row of the external step-bar view.
type StepBarEntry struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
}

// StepBarState is the external view of per-step progress, emitted on every
// step status change.
type StepBarState struct {
	Steps        []StepBarEntry `json:"steps"`
	ActiveStepID string         `json:"activeStepId,omitempty"`
}
