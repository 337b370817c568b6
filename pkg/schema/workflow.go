package schema

import "context"

// Definition is the declarative description of a workflow: an identified,
// ordered list of steps forming a DAG via per-step dependency lists.
// Immutable after the engine has loaded it.
type Definition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Steps       []Step   `json:"steps"`
	GlobalHooks *HookSet `json:"globalHooks,omitempty"`
}

// Step describes a single node in the workflow DAG.
type Step struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         StepType         `json:"type"`
	Dependencies []string         `json:"dependencies,omitempty"`
	Config       map[string]any   `json:"config,omitempty"`
	Retry        *RetryPolicy     `json:"retryPolicy,omitempty"`
	Skip         *SkipPolicy      `json:"skipPolicy,omitempty"`
	Hooks        *HookSet         `json:"hooks,omitempty"`
	UI           *UIConfig        `json:"ui,omitempty"`
	Tools        []ToolInvocation `json:"tools,omitempty"`
}

// StepType tags the kind of a step. The engine dispatches step bodies by
// the presence of UI/Tools config rather than by the tag; the tag exists
// for external editors introspecting via the step type registry.
type StepType string

const (
	StepTypeTask StepType = "task"
	StepTypeUI   StepType = "ui"
	StepTypeTool StepType = "tool"
)

// RetryPolicy bounds re-execution of a failing step body.
// MaxRetries counts retries after the first attempt: total attempts = 1 + MaxRetries.
type RetryPolicy struct {
	MaxRetries         int     `json:"maxRetries"`
	RetryIntervalMs    int64   `json:"retryInterval"`
	ExponentialBackoff bool    `json:"exponentialBackoff,omitempty"`
	BackoffMultiplier  float64 `json:"backoffMultiplier,omitempty"` // default 2
}

// SkipCondition is a caller-supplied predicate over the live execution context.
type SkipCondition func(ctx Context) bool

// SkipPolicy decides whether a step is bypassed. Exactly one of Condition
// (a Go callback) or Expression (evaluated against a read-only context
// projection) should be set; when both are set the callback wins.
// DefaultOutput is stored as the step output when the step is skipped.
type SkipPolicy struct {
	Condition     SkipCondition `json:"-"`
	Expression    string        `json:"condition,omitempty"`
	DefaultOutput any           `json:"defaultOutput,omitempty"`
}

// HookFunc is a lifecycle callback invoked around step execution.
type HookFunc func(ctx context.Context, hc *HookContext) error

// Hook is a named lifecycle callback.
type Hook struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Fn   HookFunc `json:"-"`
}

// HookSet carries the ordered before/after hook lists of a step or definition.
type HookSet struct {
	Before []Hook `json:"before,omitempty"`
	After  []Hook `json:"after,omitempty"`
}

// HookContext is handed to every hook invocation. Before-hooks may replace
// Input; the replacement is seen by subsequent hooks and by the step body.
// Output is only populated for after-hooks (HasOutput reports which phase).
type HookContext struct {
	StepID    string
	Input     any
	Output    any
	HasOutput bool
	Ctx       Context
}

// UIMode selects the interaction style of a UI step.
type UIMode string

const (
	UIModeDisplay UIMode = "display"
	UIModeConfirm UIMode = "confirm"
	UIModeSelect  UIMode = "select"
)

// UIConfig attaches a human interaction to a step.
type UIConfig struct {
	ComponentID string         `json:"componentId"`
	Mode        UIMode         `json:"mode"`
	Data        map[string]any `json:"data,omitempty"`
	TimeoutMs   int64          `json:"timeout,omitempty"`
	Options     []UIOption     `json:"options,omitempty"`
}

// UIOption is one selectable choice of a select-mode interaction.
// NextStepID is declarative routing metadata for editors; the engine does
// not interpret it.
type UIOption struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	Value      any    `json:"value,omitempty"`
	NextStepID string `json:"nextStepId,omitempty"`
}

// ToolInvocation binds a registered tool call to a step. When OutputKey is
// set, the tool result is additionally deposited into the context globals
// under that key.
type ToolInvocation struct {
	ToolID    string         `json:"toolId"`
	Params    map[string]any `json:"params,omitempty"`
	OutputKey string         `json:"outputKey,omitempty"`
}

// Context is the engine-owned per-instance key-value store as seen by
// hooks, tools, renderers and skip predicates. Step outputs and globals are
// disjoint namespaces; individual get/set operations are atomic.
type Context interface {
	GetStepOutput(stepID string) (any, bool)
	SetStepOutput(stepID string, value any)
	HasStepOutput(stepID string) bool
	GetGlobal(key string) (any, bool)
	SetGlobal(key string, value any)
	HasGlobal(key string) bool
	StepOutputs() map[string]any
	Globals() map[string]any
}
