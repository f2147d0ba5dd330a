// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package access

// Permission groups define reusable sets of permissions.
// Roles compose these groups rather than inheriting.

var memberPowers = []string{
	"profile:read",
	"profile:write",
	"password:change",
	"users:read",
}

var managerPowers = []string{
	"users:create",
	"users:update",
	"sessions:read",
	"activity:read",
}

var adminPowers = []string{
	"users:*",
	"sessions:*",
	"activity:*",
	"roles:*",
	"admin:**",
}

// Built-in role names.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
)

// DefaultRoles returns the built-in role definitions.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		RoleMember:  compose(memberPowers),
		RoleManager: compose(memberPowers, managerPowers),
		RoleAdmin:   compose(memberPowers, managerPowers, adminPowers),
	}
}

// compose merges multiple permission slices into one.
func compose(groups ...[]string) []string {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := make([]string, 0, total)
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}
