package ops

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// defaultAdminPolicy allows any request whose caller role is "admin". It's
// the fallback used when no policy file is configured, so the debug
// endpoints are gated by something even in a deployment that hasn't wired
// its own Rego bundle yet.
const defaultAdminPolicy = `
package notifier.ops

default allow = false

allow {
	input.role == "admin"
}
`

// Authorizer decides whether a caller may reach an admin endpoint.
type Authorizer interface {
	Allow(ctx context.Context, input map[string]any) (bool, error)
}

type opaAuthorizer struct {
	query rego.PreparedEvalQuery
	log   *zap.Logger
}

// NewAuthorizer compiles policyModule (or the built-in default if empty)
// into a prepared Rego query evaluating data.notifier.ops.allow.
func NewAuthorizer(ctx context.Context, policyModule string, log *zap.Logger) (Authorizer, error) {
	if policyModule == "" {
		policyModule = defaultAdminPolicy
	}

	query, err := rego.New(
		rego.Query("data.notifier.ops.allow"),
		rego.Module("ops.rego", policyModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("ops: compile policy: %w", err)
	}

	return &opaAuthorizer{query: query, log: log}, nil
}

func (a *opaAuthorizer) Allow(ctx context.Context, input map[string]any) (bool, error) {
	results, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		if a.log != nil {
			a.log.Error("policy evaluation failed", zap.Error(err))
		}
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}
