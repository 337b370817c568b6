package expressions

import (
	"context"
	"strings"

	"github.com/rendis/flowop/pkg/schema"
)

// Evaluator routes a skip-condition string to one of the three engines by
// prefix: "cel:" → CEL, "jq:" → GoJQ, anything else → Expr. The data handed
// to an engine is a read-only projection of the execution context.
type Evaluator struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewEvaluator creates an Evaluator with all three engines. The CEL engine
// is optional: if its environment fails to build, "cel:" expressions report
// an evaluation error instead.
func NewEvaluator() *Evaluator {
	celEngine, _ := NewCELEngine()
	return &Evaluator{
		expr: NewExprEngine(),
		cel:  celEngine,
		jq:   NewGoJQEngine(),
	}
}

// Evaluate evaluates the expression against a projection of wctx.
func (ev *Evaluator) Evaluate(ctx context.Context, expression string, wctx schema.Context) (any, error) {
	engine, body := ev.route(expression)
	if engine == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cel engine unavailable")
	}
	return engine.Evaluate(ctx, body, Projection(wctx, engine.Name() == "expr"))
}

// route picks the engine and strips its prefix.
func (ev *Evaluator) route(expression string) (Engine, string) {
	switch {
	case strings.HasPrefix(expression, "cel:"):
		if ev.cel == nil {
			return nil, ""
		}
		return ev.cel, strings.TrimPrefix(expression, "cel:")
	case strings.HasPrefix(expression, "jq:"):
		return ev.jq, strings.TrimPrefix(expression, "jq:")
	default:
		return ev.expr, expression
	}
}

// Projection builds the read-only data view of an execution context:
// stepOutputs and globals as shallow copies. For the expr engine the
// getStepOutput/getGlobal helper functions are included; CEL and jq receive
// plain data only (functions are not representable there).
func Projection(wctx schema.Context, withHelpers bool) map[string]any {
	outputs := wctx.StepOutputs()
	globals := wctx.Globals()

	data := map[string]any{
		"stepOutputs": outputs,
		"globals":     globals,
	}
	if withHelpers {
		data["getStepOutput"] = func(id string) any { return outputs[id] }
		data["getGlobal"] = func(key string) any { return globals[key] }
	}
	return data
}

// Truthy reduces an evaluation result to a boolean: false, nil, zero
// numbers, and empty strings are false; everything else is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}
