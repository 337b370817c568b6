package skip

import (
	"context"
	"log/slog"

	"github.com/rendis/flowop/internal/expressions"
	"github.com/rendis/flowop/pkg/schema"
)

// Evaluator decides whether a step's skip policy triggers.
type Evaluator struct {
	exprs  *expressions.Evaluator
	logger *slog.Logger
}

// NewEvaluator creates a skip Evaluator. logger may be nil.
func NewEvaluator(exprs *expressions.Evaluator, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{exprs: exprs, logger: logger}
}

// ShouldSkip evaluates the policy against the live context. A callback
// predicate is called directly; an expression string is evaluated against a
// read-only projection. Any evaluation error logs a warning and means
// "do not skip".
func (e *Evaluator) ShouldSkip(ctx context.Context, stepID string, policy *schema.SkipPolicy, wctx schema.Context) bool {
	if policy == nil {
		return false
	}

	if policy.Condition != nil {
		return policy.Condition(wctx)
	}

	if policy.Expression == "" {
		return false
	}

	out, err := e.exprs.Evaluate(ctx, policy.Expression, wctx)
	if err != nil {
		e.logger.Warn("skip condition evaluation failed, not skipping",
			slog.String("step_id", stepID),
			slog.String("expression", policy.Expression),
			slog.String("error", err.Error()))
		return false
	}
	return expressions.Truthy(out)
}
