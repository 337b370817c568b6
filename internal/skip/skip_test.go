package skip

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowop/internal/execctx"
	"github.com/rendis/flowop/internal/expressions"
	"github.com/rendis/flowop/pkg/schema"
)

func newEval() *Evaluator {
	return NewEvaluator(expressions.NewEvaluator(), nil)
}

func TestNilPolicyNeverSkips(t *testing.T) {
	assert.False(t, newEval().ShouldSkip(context.Background(), "s", nil, execctx.New()))
}

func TestCallbackPredicate(t *testing.T) {
	e := newEval()
	wctx := execctx.New()
	wctx.SetGlobal("skip", true)

	policy := &schema.SkipPolicy{Condition: func(c schema.Context) bool {
		v, _ := c.GetGlobal("skip")
		return v == true
	}}
	assert.True(t, e.ShouldSkip(context.Background(), "s", policy, wctx))

	wctx.SetGlobal("skip", false)
	assert.False(t, e.ShouldSkip(context.Background(), "s", policy, wctx))
}

func TestCallbackWinsOverExpression(t *testing.T) {
	e := newEval()
	policy := &schema.SkipPolicy{
		Condition:  func(schema.Context) bool { return true },
		Expression: "false",
	}
	assert.True(t, e.ShouldSkip(context.Background(), "s", policy, execctx.New()))
}

func TestExpressionPredicate(t *testing.T) {
	e := newEval()
	wctx := execctx.New()
	wctx.SetStepOutput("choose", map[string]any{"selectedOption": "fast"})

	fast := &schema.SkipPolicy{Expression: `stepOutputs.choose.selectedOption != "fast"`}
	full := &schema.SkipPolicy{Expression: `stepOutputs.choose.selectedOption != "full"`}

	assert.False(t, e.ShouldSkip(context.Background(), "fast", fast, wctx))
	assert.True(t, e.ShouldSkip(context.Background(), "full", full, wctx))
}

func TestEvaluationErrorMeansDoNotSkip(t *testing.T) {
	e := newEval()
	policy := &schema.SkipPolicy{Expression: "jq:.[[["}
	assert.False(t, e.ShouldSkip(context.Background(), "s", policy, execctx.New()))
}

func TestEmptyPolicyDoesNotSkip(t *testing.T) {
	e := newEval()
	assert.False(t, e.ShouldSkip(context.Background(), "s", &schema.SkipPolicy{}, execctx.New()))
}
