// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package access decides whether a role holds a permission.
//
// Permissions are colon-separated names such as "users:create" or
// "sessions:read:self". Roles grant glob patterns over them, compiled with
// ':' as separator: "users:*" matches one segment, "**" any number.
package access

import "strings"

// ValidPermission reports whether p is a well-formed permission name:
// non-empty segments without glob metacharacters.
func ValidPermission(p string) bool {
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(p, ":") {
		if seg == "" || strings.ContainsAny(seg, "*?[]{}\\!") {
			return false
		}
	}
	return true
}
