package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowop/internal/events"
	"github.com/rendis/flowop/internal/execctx"
	"github.com/rendis/flowop/internal/registry"
	"github.com/rendis/flowop/internal/waits"
	"github.com/rendis/flowop/pkg/schema"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []*schema.Event
}

func (r *eventRecorder) record(e *schema.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newInvoker(t *testing.T) (*Invoker, *registry.ToolRegistry, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	bus := events.NewBus(nil)
	bus.Subscribe(rec.record)
	reg := registry.NewToolRegistry()
	wm := waits.NewManager(bus, nil, "wf", "inst", nil)
	return NewInvoker(reg, bus, wm, "wf", "inst", nil), reg, rec
}

func TestSyncToolSuccess(t *testing.T) {
	inv, reg, rec := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:   "double",
		Name: "double",
		Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
			return params["x"].(int) * 2, nil
		},
	}))

	res := inv.Invoke(context.Background(), "double", map[string]any{"x": 21}, execctx.New(), "s1")
	require.True(t, res.Success)
	assert.Equal(t, 42, res.Result)
	assert.Contains(t, rec.types(), schema.EventToolInvoked)
	assert.Contains(t, rec.types(), schema.EventToolCompleted)
}

func TestToolNotFound(t *testing.T) {
	inv, _, _ := newInvoker(t)

	res := inv.Invoke(context.Background(), "ghost", nil, execctx.New(), "s1")
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeToolNotFound, res.Error.Code)
}

func TestSchemaValidationFailureEmitsToolFailed(t *testing.T) {
	inv, reg, rec := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:   "strict",
		Name: "strict",
		InputSchema: &schema.ValueSchema{
			Type:     "object",
			Required: []string{"x"},
			Properties: map[string]*schema.ValueSchema{
				"x": {Type: "number"},
			},
		},
		Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
			return nil, nil
		},
	}))

	res := inv.Invoke(context.Background(), "strict", map[string]any{"x": "not a number"}, execctx.New(), "s1")
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeSchemaValidation, res.Error.Code)
	assert.Contains(t, rec.types(), schema.EventToolFailed)
	assert.NotContains(t, rec.types(), schema.EventToolInvoked)
}

func TestSyncToolErrorWrapped(t *testing.T) {
	inv, reg, _ := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:   "broken",
		Name: "broken",
		Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
			return nil, errors.New("disk on fire")
		},
	}))

	res := inv.Invoke(context.Background(), "broken", nil, execctx.New(), "s1")
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeToolExecution, res.Error.Code)
	assert.Contains(t, res.Error.Message, "disk on fire")
}

func TestSyncToolPanicWrapped(t *testing.T) {
	inv, reg, _ := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:   "panicky",
		Name: "panicky",
		Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
			panic("tool exploded")
		},
	}))

	res := inv.Invoke(context.Background(), "panicky", nil, execctx.New(), "s1")
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeToolExecution, res.Error.Code)
}

func TestSyncToolTimeoutPreserved(t *testing.T) {
	inv, reg, rec := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:        "slow",
		Name:      "slow",
		TimeoutMs: 20,
		Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	res := inv.Invoke(context.Background(), "slow", nil, execctx.New(), "s1")
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeTimeout, res.Error.Code)
	assert.Contains(t, rec.types(), schema.EventToolFailed)
}

func TestAsyncToolRespond(t *testing.T) {
	inv, reg, rec := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:        "calc",
		Name:      "calc",
		Mode:      schema.ToolModeAsync,
		TimeoutMs: 5000,
	}))

	done := make(chan *InvocationResult, 1)
	go func() {
		done <- inv.Invoke(context.Background(), "calc", map[string]any{"x": 1}, execctx.New(), "s1")
	}()

	// Respond after the call is pending.
	require.Eventually(t, func() bool {
		return inv.RespondToTool("s1", "calc", map[string]any{"y": 2})
	}, time.Second, 5*time.Millisecond)

	res := <-done
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"y": 2}, res.Result)
	assert.Contains(t, rec.types(), schema.EventToolInvoked)
	assert.Contains(t, rec.types(), schema.EventToolCompleted)
	assert.Zero(t, inv.PendingCount())
}

func TestAsyncToolErrorResponse(t *testing.T) {
	inv, reg, _ := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:   "calc",
		Name: "calc",
		Mode: schema.ToolModeAsync,
	}))

	done := make(chan *InvocationResult, 1)
	go func() {
		done <- inv.Invoke(context.Background(), "calc", nil, execctx.New(), "s1")
	}()

	require.Eventually(t, func() bool {
		return inv.RespondToToolError("s1", "calc", errors.New("remote failure"))
	}, time.Second, 5*time.Millisecond)

	res := <-done
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeToolExecution, res.Error.Code)
}

func TestAsyncToolTimeout(t *testing.T) {
	inv, reg, _ := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:        "calc",
		Name:      "calc",
		Mode:      schema.ToolModeAsync,
		TimeoutMs: 30,
	}))

	res := inv.Invoke(context.Background(), "calc", nil, execctx.New(), "s1")
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeTimeout, res.Error.Code)
	assert.GreaterOrEqual(t, res.DurationMs, int64(30))
}

func TestCancelPendingCalls(t *testing.T) {
	inv, reg, _ := newInvoker(t)
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:   "calc",
		Name: "calc",
		Mode: schema.ToolModeAsync,
	}))

	done := make(chan *InvocationResult, 1)
	go func() {
		done <- inv.Invoke(context.Background(), "calc", nil, execctx.New(), "s1")
	}()

	require.Eventually(t, func() bool {
		return inv.CancelPendingCalls("s1") == 1
	}, time.Second, 5*time.Millisecond)

	res := <-done
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeCancelled, res.Error.Code)
	assert.Contains(t, res.Error.Message, "tool call cancelled")
}

func TestRespondToUnknownCall(t *testing.T) {
	inv, _, _ := newInvoker(t)
	assert.False(t, inv.RespondToTool("ghost", "calc", nil))
	assert.False(t, inv.RespondToToolError("ghost", "calc", errors.New("x")))
}

func TestBatchSequentialWithOutputKey(t *testing.T) {
	inv, reg, _ := newInvoker(t)
	var order []string
	mk := func(id string, out any) *schema.ToolDefinition {
		return &schema.ToolDefinition{
			ID:   id,
			Name: id,
			Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
				order = append(order, id)
				return out, nil
			},
		}
	}
	require.NoError(t, reg.Register(mk("first", "one")))
	require.NoError(t, reg.Register(mk("second", "two")))

	wctx := execctx.New()
	results, ferr := inv.ExecuteInvocations(context.Background(), []schema.ToolInvocation{
		{ToolID: "first", OutputKey: "firstResult"},
		{ToolID: "second"},
	}, wctx, "s1")

	require.Nil(t, ferr)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"first", "second"}, order)

	stored, ok := wctx.GetGlobal("firstResult")
	require.True(t, ok)
	assert.Equal(t, "one", stored)
}

func TestBatchStopsOnFirstFailure(t *testing.T) {
	inv, reg, _ := newInvoker(t)
	ran := false
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:   "bad",
		Name: "bad",
		Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
			return nil, errors.New("nope")
		},
	}))
	require.NoError(t, reg.Register(&schema.ToolDefinition{
		ID:   "after",
		Name: "after",
		Execute: func(ctx context.Context, params map[string]any, wctx schema.Context) (any, error) {
			ran = true
			return nil, nil
		},
	}))

	results, ferr := inv.ExecuteInvocations(context.Background(), []schema.ToolInvocation{
		{ToolID: "bad"},
		{ToolID: "after"},
	}, execctx.New(), "s1")

	require.NotNil(t, ferr)
	assert.Len(t, results, 1)
	assert.False(t, ran)
}
