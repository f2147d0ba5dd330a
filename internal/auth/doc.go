// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package auth provides authentication and session lifecycle management.
//
// # Domain Types
//
// User records are created with NewUser, which validates the username and
// required fields. Callers outside this package receive a Profile, never a
// User, so the password hash does not cross the package boundary.
//
// Sessions are identified by an opaque token. Only the SHA-256 hash of the
// token is persisted; the raw value lives in the client cookie and in the
// Session returned to the transport.
//
// # Services
//
//   - PasswordPolicy - ordered, independently togglable strength rules
//   - SessionManager - create, touch, rotate, expire and sweep sessions
//   - Service - login, registration, logout, password change and reset,
//     remember-me, and permission checks through a Gate
//
// Storage is reached through UserRepository, SessionRepository and
// RememberTokenRepository. The memory and postgres subpackages implement
// them.
package auth
