package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowop/internal/execctx"
)

func seededCtx() *execctx.Context {
	c := execctx.New()
	c.SetStepOutput("choose", map[string]any{"selectedOption": "fast"})
	c.SetGlobal("mode", "full")
	c.SetGlobal("count", 3)
	return c
}

func TestExprEngineDefault(t *testing.T) {
	ev := NewEvaluator()

	out, err := ev.Evaluate(context.Background(), `stepOutputs.choose.selectedOption == "fast"`, seededCtx())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprHelpers(t *testing.T) {
	ev := NewEvaluator()

	out, err := ev.Evaluate(context.Background(), `getGlobal("mode") == "full"`, seededCtx())
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = ev.Evaluate(context.Background(), `getStepOutput("choose") != nil`, seededCtx())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELPrefix(t *testing.T) {
	ev := NewEvaluator()

	out, err := ev.Evaluate(context.Background(), `cel:globals["mode"] == "full"`, seededCtx())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestJQPrefix(t *testing.T) {
	ev := NewEvaluator()

	out, err := ev.Evaluate(context.Background(), `jq:.stepOutputs.choose.selectedOption == "fast"`, seededCtx())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCompileErrorSurfaces(t *testing.T) {
	ev := NewEvaluator()

	_, err := ev.Evaluate(context.Background(), `jq:.[[[`, seededCtx())
	require.Error(t, err)
}

func TestMissingKeysEvaluateToNil(t *testing.T) {
	ev := NewEvaluator()

	out, err := ev.Evaluate(context.Background(), `globals.ghost == nil`, seededCtx())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCompileCacheReuse(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `globals.count > 1`, Projection(seededCtx(), true))
	require.NoError(t, err)

	e.mu.RLock()
	cached := len(e.cache)
	e.mu.RUnlock()
	assert.Equal(t, 1, cached)

	_, err = e.Evaluate(context.Background(), `globals.count > 1`, Projection(seededCtx(), true))
	require.NoError(t, err)

	e.mu.RLock()
	assert.Equal(t, cached, len(e.cache))
	e.mu.RUnlock()
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.True(t, Truthy(true))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy([]any{}))
}
