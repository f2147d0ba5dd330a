// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package audit delivers auth activity events to durable and log-based
// writers without blocking the request that produced them.
//
// Publisher implements auth.AuditSink. Events go into a bounded buffer
// drained by a single worker; when the buffer is full the event is dropped
// and counted rather than delaying the caller.
package audit
