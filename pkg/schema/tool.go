package schema

import "context"

// ToolMode selects how a registered tool is driven.
type ToolMode string

const (
	// ToolModeSync tools run their executor inline, racing the configured timeout.
	ToolModeSync ToolMode = "sync"
	// ToolModeAsync tools are resolved externally via RespondToTool/RespondToToolError.
	ToolModeAsync ToolMode = "async"
)

// ToolFunc is the executor of a sync tool. For async tools the engine never
// calls it; registration may leave it nil.
type ToolFunc func(ctx context.Context, params map[string]any, wctx Context) (any, error)

// ToolDefinition registers an invocable tool with the engine.
type ToolDefinition struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Mode        ToolMode     `json:"mode,omitempty"` // default sync
	TimeoutMs   int64        `json:"timeout,omitempty"`
	InputSchema *ValueSchema `json:"inputSchema,omitempty"`
	Execute     ToolFunc     `json:"-"`
}

// ToolInfo is the metadata-only view of a registered tool.
type ToolInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Mode        ToolMode `json:"mode"`
}

// ValueSchema is the constrained schema shape accepted for tool parameter
// validation. Five type tags only: string, number, boolean, object, array.
// Objects validate required fields and known properties recursively and
// allow additional properties; arrays validate every element against Items.
type ValueSchema struct {
	Type       string                  `json:"type"`
	Properties map[string]*ValueSchema `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
	Items      *ValueSchema            `json:"items,omitempty"`
}

// RenderFunc is the renderer of a registered UI component. For display mode
// its return value becomes the step response; for confirm/select it is called
// for side effect and the real response arrives via RespondToUI.
type RenderFunc func(ctx context.Context, cfg *UIConfig, wctx Context) (*UIRenderResult, error)

// UIRenderResult is what a renderer produces, and the shape external callers
// pass back through RespondToUI.
type UIRenderResult struct {
	Rendered       bool   `json:"rendered"`
	UserResponse   any    `json:"userResponse,omitempty"`
	SelectedOption string `json:"selectedOption,omitempty"`
}

// UIComponentDefinition registers a renderable UI component with the engine.
type UIComponentDefinition struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	SupportedModes []UIMode   `json:"supportedModes"`
	Render         RenderFunc `json:"-"`
}

// UIComponentInfo is the metadata-only view of a registered UI component.
type UIComponentInfo struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	SupportedModes []UIMode `json:"supportedModes"`
}

// StepTypeDefinition describes a step type for external editors.
type StepTypeDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
