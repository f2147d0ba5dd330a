// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package access

import (
	"maps"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// StaticGate grants permissions from a fixed role table. It is immutable
// after construction and safe for concurrent use.
type StaticGate struct {
	roles map[string][]compiledPermission
	names []string
}

// compiledPermission holds a permission pattern and its compiled glob.
type compiledPermission struct {
	pattern string
	glob    glob.Glob
}

// NewStaticGate compiles roles. Role names must be non-empty and every
// pattern must be valid glob syntax.
func NewStaticGate(roles map[string][]string) (*StaticGate, error) {
	if len(roles) == 0 {
		return nil, oops.In("access").Code("NO_ROLES").Errorf("at least one role is required")
	}

	compiled := make(map[string][]compiledPermission, len(roles))
	for role, perms := range roles {
		if strings.TrimSpace(role) == "" {
			return nil, oops.In("access").Code("INVALID_ROLE").Errorf("role name cannot be empty")
		}
		list := make([]compiledPermission, 0, len(perms))
		for _, p := range perms {
			if strings.TrimSpace(p) == "" {
				return nil, oops.In("access").
					Code("INVALID_PERMISSION_PATTERN").
					With("role", role).
					Errorf("permission pattern cannot be empty")
			}
			g, err := glob.Compile(p, ':')
			if err != nil {
				return nil, oops.In("access").
					Code("INVALID_PERMISSION_PATTERN").
					With("role", role).
					With("pattern", p).
					Wrap(err)
			}
			list = append(list, compiledPermission{pattern: p, glob: g})
		}
		compiled[role] = list
	}

	return &StaticGate{
		roles: compiled,
		names: slices.Sorted(maps.Keys(compiled)),
	}, nil
}

// MustStaticGate is NewStaticGate for tables known at compile time.
func MustStaticGate(roles map[string][]string) *StaticGate {
	g, err := NewStaticGate(roles)
	if err != nil {
		panic("invalid role table: " + err.Error())
	}
	return g
}

// Check reports whether role grants permission. Unknown roles, malformed
// permissions and empty input are denied.
func (g *StaticGate) Check(role, permission string) bool {
	if g == nil || role == "" || !ValidPermission(permission) {
		return false
	}
	for _, perm := range g.roles[role] {
		if perm.glob.Match(permission) {
			return true
		}
	}
	return false
}

// KnownRole reports whether role is defined.
func (g *StaticGate) KnownRole(role string) bool {
	if g == nil {
		return false
	}
	_, ok := g.roles[role]
	return ok
}

// Roles returns the role names in sorted order.
func (g *StaticGate) Roles() []string {
	return slices.Clone(g.names)
}

// Patterns returns the patterns granted to role.
func (g *StaticGate) Patterns(role string) []string {
	perms := g.roles[role]
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.pattern)
	}
	return out
}
