package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"tutorhub/backend/internal/policy/domain"
	"tutorhub/backend/internal/session/reconciler"
)

const decisionQuery = "data.tutorhub.route_guard.decision"

// DefaultRegoPolicy is the built-in route guard. Public routes always open; otherwise the identity
// must be resolved and signed in, hold one of the route roles, and have one of the route user types
// unless it is an admin.
const DefaultRegoPolicy = `package tutorhub.route_guard

default decision := "deny"

decision := "allow" if {
	input.route.public
} else := "pending" if {
	not input.identity.initialized
} else := "pending" if {
	input.identity.loading
} else := "login" if {
	not input.identity.authenticated
} else := "allow" if {
	role_allowed
	user_type_allowed
}

role_allowed if count(input.route.roles) == 0

role_allowed if input.identity.role in input.route.roles

user_type_allowed if count(input.route.user_types) == 0

user_type_allowed if input.identity.role == "admin"

user_type_allowed if input.identity.user_type in input.route.user_types
`

// OPAEvaluator evaluates route access with OPA Rego. The query is prepared once at construction.
type OPAEvaluator struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewOPAEvaluator compiles policy (DefaultRegoPolicy when nil or empty) and prepares the decision query.
func NewOPAEvaluator(ctx context.Context, policy *domain.Policy, logger *zap.Logger) (*OPAEvaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name, rules := "route_guard.rego", DefaultRegoPolicy
	if policy != nil && policy.Rules != "" {
		rules = policy.Rules
		if policy.Name != "" {
			name = policy.Name
		}
	}
	compiler, err := ast.CompileModules(map[string]string{name: rules})
	if err != nil {
		return nil, fmt.Errorf("compile route policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare route policy: %w", err)
	}
	return &OPAEvaluator{query: q, logger: logger.Named("policy")}, nil
}

// HealthCheck verifies that the prepared policy evaluates to a known decision for an unresolved identity.
// Does not touch the reconciler or any store. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if _, err := e.Evaluate(ctx, reconciler.ReconciledIdentity{}, domain.Route{Path: "/"}); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// Evaluate runs the prepared policy. Failures and unknown results deny.
func (e *OPAEvaluator) Evaluate(ctx context.Context, id reconciler.ReconciledIdentity, route domain.Route) (domain.Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(id, route)))
	if err != nil {
		e.logger.Warn("policy: evaluation failed, denying", zap.String("path", route.Path), zap.Error(err))
		return domain.DecisionDeny, fmt.Errorf("evaluate route policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return domain.DecisionDeny, fmt.Errorf("route policy returned no result")
	}
	s, ok := rs[0].Expressions[0].Value.(string)
	d := domain.Decision(s)
	if !ok || !d.Valid() {
		e.logger.Warn("policy: unknown decision, denying", zap.String("path", route.Path), zap.Any("value", rs[0].Expressions[0].Value))
		return domain.DecisionDeny, fmt.Errorf("route policy returned unknown decision %v", rs[0].Expressions[0].Value)
	}
	return d, nil
}

func buildInput(id reconciler.ReconciledIdentity, route domain.Route) map[string]interface{} {
	identity := map[string]interface{}{
		"initialized":   id.Initialized,
		"loading":       id.Loading,
		"authenticated": id.User != nil,
		"role":          string(id.Role),
		"user_type":     "",
	}
	if id.User != nil {
		identity["user_type"] = string(id.User.UserType)
	}
	roles := make([]interface{}, 0, len(route.Roles))
	for _, r := range route.Roles {
		roles = append(roles, string(r))
	}
	types := make([]interface{}, 0, len(route.UserTypes))
	for _, t := range route.UserTypes {
		types = append(types, string(t))
	}
	return map[string]interface{}{
		"identity": identity,
		"route": map[string]interface{}{
			"path":       route.Path,
			"public":     route.Public,
			"roles":      roles,
			"user_types": types,
		},
	}
}
var _ Evaluator = (*OPAEvaluator)(nil)
