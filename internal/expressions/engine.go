package expressions

import "context"

// Engine evaluates skip-condition expressions against a context projection.
// Three implementations: Expr (default), CEL ("cel:" prefix), GoJQ ("jq:"
// prefix).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
