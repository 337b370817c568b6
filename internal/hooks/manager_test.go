package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowop/internal/execctx"
	"github.com/rendis/flowop/pkg/schema"
)

func recordingHook(id string, trace *[]string) schema.Hook {
	return schema.Hook{
		ID:   id,
		Name: id,
		Fn: func(ctx context.Context, hc *schema.HookContext) error {
			*trace = append(*trace, id)
			return nil
		},
	}
}

func TestBeforeOrderGlobalThenStep(t *testing.T) {
	m := NewManager(nil)
	var trace []string

	m.AddGlobalBefore(recordingHook("g1", &trace))
	m.AddGlobalBefore(recordingHook("g2", &trace))
	stepHooks := &schema.HookSet{Before: []schema.Hook{recordingHook("s1", &trace)}}

	_, err := m.ExecuteBefore(context.Background(), "step", nil, execctx.New(), stepHooks)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2", "s1"}, trace)
}

func TestAfterOrderStepThenGlobal(t *testing.T) {
	m := NewManager(nil)
	var trace []string

	m.AddGlobalAfter(recordingHook("g1", &trace))
	stepHooks := &schema.HookSet{After: []schema.Hook{recordingHook("s1", &trace)}}

	warn := m.ExecuteAfter(context.Background(), "step", nil, "out", execctx.New(), stepHooks)
	assert.Nil(t, warn)
	assert.Equal(t, []string{"s1", "g1"}, trace)
}

func TestBeforeInputMutationChains(t *testing.T) {
	m := NewManager(nil)

	m.AddGlobalBefore(schema.Hook{ID: "double", Fn: func(ctx context.Context, hc *schema.HookContext) error {
		hc.Input = hc.Input.(int) * 2
		return nil
	}})
	stepHooks := &schema.HookSet{Before: []schema.Hook{{ID: "inc", Fn: func(ctx context.Context, hc *schema.HookContext) error {
		hc.Input = hc.Input.(int) + 1
		return nil
	}}}}

	out, err := m.ExecuteBefore(context.Background(), "step", 5, execctx.New(), stepHooks)
	require.NoError(t, err)
	assert.Equal(t, 11, out)
}

func TestBeforeAbortsOnError(t *testing.T) {
	m := NewManager(nil)
	ran := false

	m.AddGlobalBefore(schema.Hook{ID: "boom", Fn: func(ctx context.Context, hc *schema.HookContext) error {
		return errors.New("hook exploded")
	}})
	m.AddGlobalBefore(schema.Hook{ID: "later", Fn: func(ctx context.Context, hc *schema.HookContext) error {
		ran = true
		return nil
	}})

	_, err := m.ExecuteBefore(context.Background(), "step", nil, execctx.New(), nil)
	require.Error(t, err)
	assert.False(t, ran)

	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeHookExecution, fe.Code)
	assert.Equal(t, "before", fe.Details["phase"])
	assert.Equal(t, "boom", fe.Details["hookId"])
}

func TestAfterCollectsButNeverAborts(t *testing.T) {
	m := NewManager(nil)
	var trace []string

	m.AddGlobalAfter(schema.Hook{ID: "fail1", Fn: func(ctx context.Context, hc *schema.HookContext) error {
		return errors.New("first failure")
	}})
	m.AddGlobalAfter(recordingHook("ok", &trace))
	m.AddGlobalAfter(schema.Hook{ID: "fail2", Fn: func(ctx context.Context, hc *schema.HookContext) error {
		return errors.New("second failure")
	}})

	warn := m.ExecuteAfter(context.Background(), "step", nil, "out", execctx.New(), nil)
	require.NotNil(t, warn)
	assert.Contains(t, warn.Message, "first failure")
	assert.Equal(t, []string{"ok"}, trace)
}

func TestAfterHookPanicIsContained(t *testing.T) {
	m := NewManager(nil)
	m.AddGlobalAfter(schema.Hook{ID: "panicky", Fn: func(ctx context.Context, hc *schema.HookContext) error {
		panic("bad hook")
	}})

	var warn *schema.FlowError
	require.NotPanics(t, func() {
		warn = m.ExecuteAfter(context.Background(), "step", nil, nil, execctx.New(), nil)
	})
	require.NotNil(t, warn)
}

func TestDuplicateIDsIgnoredOnReAdd(t *testing.T) {
	m := NewManager(nil)
	var trace []string

	m.AddGlobalBefore(recordingHook("h", &trace))
	m.AddGlobalBefore(recordingHook("h", &trace))

	before, _ := m.GlobalCounts()
	assert.Equal(t, 1, before)
}

func TestRemoveGlobal(t *testing.T) {
	m := NewManager(nil)
	var trace []string

	m.AddGlobalBefore(recordingHook("h", &trace))
	m.AddGlobalAfter(recordingHook("h", &trace))

	assert.True(t, m.RemoveGlobal("h"))
	before, after := m.GlobalCounts()
	assert.Zero(t, before)
	assert.Zero(t, after)
	assert.False(t, m.RemoveGlobal("h"))
}

func TestAfterHookSeesOutput(t *testing.T) {
	m := NewManager(nil)
	var seen any
	var hasOutput bool

	m.AddGlobalAfter(schema.Hook{ID: "observe", Fn: func(ctx context.Context, hc *schema.HookContext) error {
		seen = hc.Output
		hasOutput = hc.HasOutput
		return nil
	}})

	m.ExecuteAfter(context.Background(), "step", "in", "the-output", execctx.New(), nil)
	assert.Equal(t, "the-output", seen)
	assert.True(t, hasOutput)
}
