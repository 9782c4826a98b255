package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	profiledomain "tutorhub/backend/internal/profile/domain"
)

// Decision is the route guard outcome for one identity and route.
type Decision string

const (
	// DecisionPending means the identity is not resolved yet; render a loading surface.
	DecisionPending Decision = "pending"
	// DecisionLogin means nobody is signed in; redirect to login.
	DecisionLogin Decision = "login"
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionPending, DecisionLogin, DecisionAllow, DecisionDeny:
		return true
	}
	return false
}

// Route describes who may open a path. Empty lists allow any signed-in user.
type Route struct {
	Path      string
	Public    bool
	Roles     []profiledomain.Role
	UserTypes []profiledomain.UserType
}

// Policy is a Rego module evaluated by the route guard in place of the built-in rules.
type Policy struct {
	Name  string
	Rules string
}

// ParseRoute parses "path?roles=a,b&types=c&public=true" into a Route.
func ParseRoute(raw string) (Route, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Route{}, errors.New("route is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Route{}, fmt.Errorf("route %q: %w", raw, err)
	}
	if u.Path == "" || !strings.HasPrefix(u.Path, "/") {
		return Route{}, fmt.Errorf("route %q: path must start with /", raw)
	}
	q := u.Query()
	r := Route{Path: u.Path}
	if v := q.Get("public"); v != "" {
		if r.Public, err = strconv.ParseBool(v); err != nil {
			return Route{}, fmt.Errorf("route %q: public: %w", raw, err)
		}
	}
	for _, s := range splitList(q.Get("roles")) {
		role := profiledomain.Role(s)
		if !role.Valid() {
			return Route{}, fmt.Errorf("route %q: unknown role %q", raw, s)
		}
		r.Roles = append(r.Roles, role)
	}
	for _, s := range splitList(q.Get("types")) {
		t := profiledomain.UserType(s)
		if t == "" || !t.Valid() {
			return Route{}, fmt.Errorf("route %q: unknown user type %q", raw, s)
		}
		r.UserTypes = append(r.UserTypes, t)
	}
	return r, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
