package engine

import (
	"context"

	"tutorhub/backend/internal/policy/domain"
	"tutorhub/backend/internal/session/reconciler"
)

// Evaluator decides whether a reconciled identity may open a route.
type Evaluator interface {
	// Evaluate returns the route decision. On evaluation failure it returns DecisionDeny and the error.
	Evaluate(ctx context.Context, id reconciler.ReconciledIdentity, route domain.Route) (domain.Decision, error)
}
