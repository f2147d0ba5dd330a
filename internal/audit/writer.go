// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package audit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/wardenauth/warden/internal/auth"
)

// Writer persists one event.
type Writer interface {
	Write(ctx context.Context, event auth.AuditEvent) error
}

// Reader lists recent events, newest first. actorID filters when non-empty.
type Reader interface {
	Recent(ctx context.Context, actorID string, limit int) ([]auth.AuditEvent, error)
}

// LogWriter writes events to a slog.Logger at the event's severity.
type LogWriter struct {
	Logger *slog.Logger
}

// Write implements Writer.
func (w LogWriter) Write(ctx context.Context, event auth.AuditEvent) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	args := make([]any, 0, 6+2*len(event.Attrs))
	args = append(args, "action", event.Action, "actor_id", event.ActorID, "at", event.Time)
	for _, k := range slices.Sorted(maps.Keys(event.Attrs)) {
		args = append(args, k, event.Attrs[k])
	}
	logger.Log(ctx, event.Severity, "audit: "+event.Message, args...)
	return nil
}

// MultiWriter writes to each writer in order and joins their errors.
type MultiWriter []Writer

// Write implements Writer.
func (m MultiWriter) Write(ctx context.Context, event auth.AuditEvent) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryWriter keeps the most recent events in a ring. It serves warden
// deployments without a database and tests.
type MemoryWriter struct {
	mu     sync.Mutex
	events []auth.AuditEvent
	next   int
	full   bool
}

// NewMemoryWriter creates a ring holding up to capacity events.
func NewMemoryWriter(capacity int) *MemoryWriter {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryWriter{events: make([]auth.AuditEvent, capacity)}
}

// Write implements Writer.
func (m *MemoryWriter) Write(_ context.Context, event auth.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[m.next] = event
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent implements Reader.
func (m *MemoryWriter) Recent(_ context.Context, actorID string, limit int) ([]auth.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}
	out := make([]auth.AuditEvent, 0, min(n, max(limit, 0)))
	for i := 1; i <= n && len(out) < limit; i++ {
		ev := m.events[(m.next-i+len(m.events))%len(m.events)]
		if actorID == "" || ev.ActorID == actorID {
			out = append(out, ev)
		}
	}
	return out, nil
}
