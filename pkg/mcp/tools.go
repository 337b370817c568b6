package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowop/pkg/flowop"
	"github.com/rendis/flowop/pkg/schema"
)

// handleRun loads a definition into a fresh engine and starts it in the
// background, returning the instance ID immediately.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defDoc := req.GetArguments()["definition"]
	if defDoc == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	raw, err := json.Marshal(defDoc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot encode definition: %v", err)), nil
	}
	def, err := flowop.ImportDefinition(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	globals := mcp.ParseStringMap(req, "globals", nil)

	engine := flowop.New(s.cfg)
	if s.setup != nil {
		if err := s.setup(engine); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("engine setup failed: %v", err)), nil
		}
	}
	if err := engine.LoadWorkflow(def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load failed: %v", err)), nil
	}

	r := &run{engine: engine, done: make(chan struct{})}
	instanceID := engine.InstanceID()
	s.mu.Lock()
	s.runs[instanceID] = r
	s.mu.Unlock()

	go func() {
		result, runErr := engine.Start(globals)
		r.mu.Lock()
		r.result = result
		r.err = runErr
		r.mu.Unlock()
		close(r.done)
	}()

	return marshalResult(map[string]any{
		"instanceId": instanceID,
		"workflowId": def.ID,
		"status":     string(engine.GetStatus()),
	})
}

// handleStatus reports status, step states, and (when finished) the result.
func (s *FlowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	r, ok := s.getRun(instanceID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown instance: %s", instanceID)), nil
	}

	out := map[string]any{
		"instanceId": instanceID,
		"status":     string(r.engine.GetStatus()),
		"stepBar":    r.engine.GetStepBarState(),
		"steps":      r.engine.GetStepStates(),
	}

	select {
	case <-r.done:
		r.mu.Lock()
		if r.err != nil {
			out["error"] = r.err.Error()
		}
		if r.result != nil {
			out["result"] = r.result
		}
		r.mu.Unlock()
	default:
	}

	return marshalResult(out)
}

// handleRespondUI resolves a pending UI interaction.
func (s *FlowServer) handleRespondUI(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("step_id is required"), nil
	}
	r, ok := s.getRun(instanceID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown instance: %s", instanceID)), nil
	}

	result := &schema.UIRenderResult{
		Rendered:       true,
		UserResponse:   req.GetArguments()["response"],
		SelectedOption: req.GetString("selected_option", ""),
	}
	if err := r.engine.RespondToUI(stepID, result); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("respond failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"responded": true, "stepId": stepID})
}

// handleRespondTool resolves a pending async tool call.
func (s *FlowServer) handleRespondTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("step_id is required"), nil
	}
	toolID, err := req.RequireString("tool_id")
	if err != nil {
		return mcp.NewToolResultError("tool_id is required"), nil
	}
	r, ok := s.getRun(instanceID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown instance: %s", instanceID)), nil
	}

	if errMsg := req.GetString("error", ""); errMsg != "" {
		if !r.engine.RespondToToolError(stepID, toolID, fmt.Errorf("%s", errMsg)) {
			return mcp.NewToolResultError("no matching pending tool call"), nil
		}
		return marshalResult(map[string]any{"responded": true, "failed": true})
	}

	if !r.engine.RespondToTool(stepID, toolID, req.GetArguments()["result"]) {
		return mcp.NewToolResultError("no matching pending tool call"), nil
	}
	return marshalResult(map[string]any{"responded": true})
}

// handleCancel aborts a running instance.
func (s *FlowServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	r, ok := s.getRun(instanceID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown instance: %s", instanceID)), nil
	}
	if err := r.engine.Cancel(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"cancelled": true})
}

// handleValidate checks a definition without running it.
func (s *FlowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defDoc := req.GetArguments()["definition"]
	if defDoc == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	raw, err := json.Marshal(defDoc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot encode definition: %v", err)), nil
	}
	if _, err := flowop.ImportDefinition(raw); err != nil {
		return marshalResult(map[string]any{"valid": false, "error": err.Error()})
	}
	return marshalResult(map[string]any{"valid": true})
}

// marshalResult encodes a value as a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Start a workflow definition; returns the instance ID immediately"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition document")),
		mcp.WithObject("globals", mcp.Description("Initial global values for the execution context")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flow.status",
		mcp.WithDescription("Get instance status, step states, and the result when finished"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Instance to query")),
	)
}

func respondUITool() mcp.Tool {
	return mcp.NewTool("flow.respond_ui",
		mcp.WithDescription("Resolve a pending UI interaction"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Target instance")),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("Step whose interaction is pending")),
		mcp.WithString("selected_option", mcp.Description("Selected option ID (select mode)")),
		mcp.WithObject("response", mcp.Description("Free-form response payload")),
	)
}

func respondToolTool() mcp.Tool {
	return mcp.NewTool("flow.respond_tool",
		mcp.WithDescription("Resolve a pending async tool call"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Target instance")),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("Step that issued the call")),
		mcp.WithString("tool_id", mcp.Required(), mcp.Description("Tool being resolved")),
		mcp.WithObject("result", mcp.Description("Tool result payload")),
		mcp.WithString("error", mcp.Description("Error message; resolves the call as failed")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("flow.cancel",
		mcp.WithDescription("Cancel a running instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Instance to cancel")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flow.validate",
		mcp.WithDescription("Validate a workflow definition without running it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition document")),
	)
}
