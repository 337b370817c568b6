// Package flowop is the public surface of the workflow engine. It re-exports
// the orchestrator and its configuration so callers outside the module can
// load definitions, run instances, subscribe to the event stream, and drive
// pending interactions.
package flowop

import (
	"log/slog"
	"time"

	"github.com/rendis/flowop/internal/engine"
	"github.com/rendis/flowop/internal/events"
	"github.com/rendis/flowop/internal/execctx"
	"github.com/rendis/flowop/internal/scheduler"
	"github.com/rendis/flowop/pkg/schema"
)

// Engine is the workflow orchestrator. See the method set for the full list
// of caller entry points: LoadWorkflow, Start, Pause, Resume, Cancel, On,
// Off, RespondToUI, RespondToTool, RespondToToolError, registry and hook
// management, and the status/context/step-bar queries.
type Engine = engine.Engine

// Config holds engine configuration.
type Config = engine.Config

// WorkflowResult is the terminal outcome of a run.
type WorkflowResult = engine.WorkflowResult

// StepResult is the outcome of a single step execution.
type StepResult = engine.StepResult

// ContextSnapshot is a structural copy of an instance's execution context.
type ContextSnapshot = execctx.Snapshot

// EventHandler receives published events.
type EventHandler = events.Handler

// New creates an Engine with empty registries and no loaded workflow.
func New(cfg Config) *Engine {
	return engine.New(cfg)
}

// ImportDefinition parses and re-validates a definition JSON document.
// Imported callbacks are inert no-ops until re-bound by the caller.
func ImportDefinition(data []byte) (*schema.Definition, error) {
	return engine.ImportDefinition(data)
}

// MarshalDefinition serializes a definition as canonical JSON.
func MarshalDefinition(def *schema.Definition) ([]byte, error) {
	return engine.MarshalDefinition(def)
}

// Scheduler fires cron triggers against registered workflow definitions.
type Scheduler = scheduler.Scheduler

// TriggerRunner starts one workflow run for a fired trigger.
type TriggerRunner = scheduler.RunnerFunc

// NewScheduler creates a cron trigger scheduler. A common runner loads the
// definition into a fresh engine and starts it:
//
//	s := flowop.NewScheduler(func(ctx context.Context, def *schema.Definition, globals map[string]any) error {
//		e := flowop.New(flowop.Config{})
//		if err := e.LoadWorkflow(def); err != nil {
//			return err
//		}
//		_, err := e.Start(globals)
//		return err
//	}, nil, time.Minute)
func NewScheduler(runner TriggerRunner, logger *slog.Logger, tick time.Duration) *Scheduler {
	return scheduler.NewScheduler(runner, logger, tick)
}
