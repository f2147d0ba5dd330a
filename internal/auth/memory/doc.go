// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package memory provides in-process implementations of the auth
// repositories. Every value is copied on the way in and out, so callers
// never share state with the store.
package memory
