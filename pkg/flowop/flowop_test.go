package flowop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowop/pkg/schema"
)

func TestPublicSurfaceEndToEnd(t *testing.T) {
	e := New(Config{TickInterval: time.Millisecond})
	require.NoError(t, e.RegisterTool(&schema.ToolDefinition{
		ID: "greet", Name: "greet",
		Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
			return "hello " + params["who"].(string), nil
		},
	}))

	def := &schema.Definition{
		ID: "greeting", Name: "Greeting",
		Steps: []schema.Step{
			{ID: "say", Name: "Say", Type: schema.StepTypeTool,
				Tools: []schema.ToolInvocation{{ToolID: "greet", Params: map[string]any{"who": "world"}, OutputKey: "greeting"}}},
			{ID: "after", Name: "After", Type: schema.StepTypeTask, Dependencies: []string{"say"}},
		},
	}
	require.NoError(t, e.LoadWorkflow(def))

	var seen []string
	e.On(func(ev *schema.Event) { seen = append(seen, ev.Type) }, schema.EventWorkflowCompleted)

	res, err := e.Start(nil)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusCompleted, res.Status)
	assert.Equal(t, "hello world", res.Context.Globals["greeting"])
	assert.Len(t, seen, 1)
}

func TestImportExportThroughFacade(t *testing.T) {
	def := &schema.Definition{
		ID: "wf", Name: "WF",
		Steps: []schema.Step{{ID: "a", Name: "A", Type: schema.StepTypeTask}},
	}

	data, err := MarshalDefinition(def)
	require.NoError(t, err)

	back, err := ImportDefinition(data)
	require.NoError(t, err)
	assert.Equal(t, def.ID, back.ID)
}

func TestSchedulerThroughFacade(t *testing.T) {
	ran := make(chan string, 1)
	s := NewScheduler(func(ctx context.Context, def *schema.Definition, globals map[string]any) error {
		ran <- def.ID
		return nil
	}, nil, time.Minute)

	_, err := s.AddTrigger("* * * * *", &schema.Definition{
		ID: "cron-wf", Name: "Cron",
		Steps: []schema.Step{{ID: "a", Name: "A", Type: schema.StepTypeTask}},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, s.Triggers(), 1)
}
