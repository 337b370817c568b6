package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowop/pkg/schema"
)

func richDefinition() *schema.Definition {
	return &schema.Definition{
		ID:          "order-flow",
		Name:        "Order Flow",
		Description: "processes an order",
		Steps: []schema.Step{
			{ID: "validate", Name: "Validate", Type: schema.StepTypeTask},
			{
				ID: "charge", Name: "Charge", Type: schema.StepTypeTool,
				Dependencies: []string{"validate"},
				Retry:        &schema.RetryPolicy{MaxRetries: 2, RetryIntervalMs: 100, ExponentialBackoff: true},
				Tools:        []schema.ToolInvocation{{ToolID: "billing", Params: map[string]any{"amount": 10.0}, OutputKey: "chargeResult"}},
			},
			{
				ID: "review", Name: "Review", Type: schema.StepTypeUI,
				Dependencies: []string{"charge"},
				Skip:         &schema.SkipPolicy{Expression: `globals.autoApprove == true`, DefaultOutput: "auto"},
				UI: &schema.UIConfig{
					ComponentID: "approval",
					Mode:        schema.UIModeSelect,
					TimeoutMs:   60000,
					Options:     []schema.UIOption{{ID: "approve", Label: "Approve"}, {ID: "reject", Label: "Reject"}},
				},
				Hooks: &schema.HookSet{
					Before: []schema.Hook{{ID: "audit", Name: "Audit", Fn: func(ctx context.Context, hc *schema.HookContext) error { return nil }}},
				},
			},
		},
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	def := richDefinition()

	data, err := MarshalDefinition(def)
	require.NoError(t, err)

	back, err := ImportDefinition(data)
	require.NoError(t, err)

	assert.Equal(t, def.ID, back.ID)
	assert.Equal(t, def.Name, back.Name)
	assert.Equal(t, def.Description, back.Description)
	require.Len(t, back.Steps, len(def.Steps))

	for i, step := range def.Steps {
		got := back.Steps[i]
		assert.Equal(t, step.ID, got.ID)
		assert.Equal(t, step.Name, got.Name)
		assert.Equal(t, step.Type, got.Type)
		assert.Equal(t, step.Dependencies, got.Dependencies)
	}

	// Retry policy survives.
	require.NotNil(t, back.Steps[1].Retry)
	assert.Equal(t, 2, back.Steps[1].Retry.MaxRetries)
	assert.True(t, back.Steps[1].Retry.ExponentialBackoff)

	// Tool invocation survives.
	require.Len(t, back.Steps[1].Tools, 1)
	assert.Equal(t, "billing", back.Steps[1].Tools[0].ToolID)
	assert.Equal(t, "chargeResult", back.Steps[1].Tools[0].OutputKey)

	// Skip expression is verbatim; UI declaration is intact.
	require.NotNil(t, back.Steps[2].Skip)
	assert.Equal(t, `globals.autoApprove == true`, back.Steps[2].Skip.Expression)
	require.NotNil(t, back.Steps[2].UI)
	assert.Equal(t, schema.UIModeSelect, back.Steps[2].UI.Mode)
	require.Len(t, back.Steps[2].UI.Options, 2)
	assert.Equal(t, "approve", back.Steps[2].UI.Options[0].ID)
}

func TestImportedHookIsInertNoOp(t *testing.T) {
	data, err := MarshalDefinition(richDefinition())
	require.NoError(t, err)

	back, err := ImportDefinition(data)
	require.NoError(t, err)

	hooks := back.Steps[2].Hooks
	require.NotNil(t, hooks)
	require.Len(t, hooks.Before, 1)
	assert.Equal(t, "audit", hooks.Before[0].ID)
	require.NotNil(t, hooks.Before[0].Fn)
	assert.NoError(t, hooks.Before[0].Fn(context.Background(), &schema.HookContext{}))
}

func TestCallbackSkipPolicyDegradesLossily(t *testing.T) {
	def := &schema.Definition{
		ID: "wf", Name: "wf",
		Steps: []schema.Step{
			{
				ID: "a", Name: "A", Type: schema.StepTypeTask,
				Skip: &schema.SkipPolicy{Condition: func(schema.Context) bool { return false }},
			},
		},
	}

	data, err := MarshalDefinition(def)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<callback>")

	back, err := ImportDefinition(data)
	require.NoError(t, err)
	assert.Nil(t, back.Steps[0].Skip.Condition)
	assert.Equal(t, "<callback>", back.Steps[0].Skip.Expression)
}

func TestImportRejectsInvalidDocuments(t *testing.T) {
	_, err := ImportDefinition([]byte(`{"id": "wf", "steps": []}`))
	require.Error(t, err)

	_, err = ImportDefinition([]byte(`{"id": "wf", "name": "W", "steps": [
		{"id": "a", "name": "A", "type": "task", "dependencies": ["b"]},
		{"id": "b", "name": "B", "type": "task", "dependencies": ["a"]}
	]}`))
	require.Error(t, err)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeCycleDetected, fe.Code)
}
