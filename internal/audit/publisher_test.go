// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package audit_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wardenauth/warden/internal/audit"
	"github.com/wardenauth/warden/internal/auth"
)

// blockingWriter holds every Write until release is closed.
type blockingWriter struct {
	release chan struct{}
	mu      sync.Mutex
	got     []auth.AuditEvent
}

func (w *blockingWriter) Write(ctx context.Context, ev auth.AuditEvent) error {
	select {
	case <-w.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.got = append(w.got, ev)
	return nil
}

func (w *blockingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.got)
}

type failingWriter struct{}

func (failingWriter) Write(context.Context, auth.AuditEvent) error { return errors.New("disk full") }

func TestPublisher_DeliversAndDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	mem := audit.NewMemoryWriter(10)
	p := audit.NewPublisher(mem)

	for i := 0; i < 5; i++ {
		p.Record(context.Background(), auth.AuditEvent{Action: auth.ActionLogin, ActorID: "u1"})
	}
	require.NoError(t, p.Close(context.Background()))

	events, err := mem.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, events, 5)
	assert.False(t, events[0].Time.IsZero(), "publisher stamps the time")
}

func TestPublisher_NeverBlocksWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &blockingWriter{release: make(chan struct{})}
	var dropped atomic.Int32
	p := audit.NewPublisher(w,
		audit.WithBufferSize(2),
		audit.WithDropCounter(func() { dropped.Add(1) }),
		audit.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			p.Record(context.Background(), auth.AuditEvent{Action: auth.ActionLoginFailed})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked")
	}

	close(w.release)
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int32(20), dropped.Load()+int32(w.count()))
	assert.Positive(t, dropped.Load())
}

func TestPublisher_RecordAfterCloseDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	var dropped atomic.Int32
	mem := audit.NewMemoryWriter(4)
	p := audit.NewPublisher(mem, audit.WithDropCounter(func() { dropped.Add(1) }))
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()), "close is idempotent")

	p.Record(context.Background(), auth.AuditEvent{Action: auth.ActionLogout})
	assert.Equal(t, int32(1), dropped.Load())
}

func TestPublisher_CloseHonoursDeadline(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	p := audit.NewPublisher(w, audit.WithWriteTimeout(time.Minute))
	p.Record(context.Background(), auth.AuditEvent{Action: auth.ActionLogin})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, p.Close(ctx))

	close(w.release)
	require.NoError(t, p.Close(context.Background()))
	goleak.VerifyNone(t)
}

func TestPublisher_WriteFailuresAreLogged(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	p := audit.NewPublisher(failingWriter{}, audit.WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	p.Record(context.Background(), auth.AuditEvent{Action: auth.ActionRegister})
	require.NoError(t, p.Close(context.Background()))

	assert.Contains(t, buf.String(), "audit write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestPublisher_CopiesAttrs(t *testing.T) {
	defer goleak.VerifyNone(t)

	mem := audit.NewMemoryWriter(4)
	p := audit.NewPublisher(mem)
	attrs := map[string]string{"reason": "bad_password"}
	p.Record(context.Background(), auth.AuditEvent{Action: auth.ActionLoginFailed, Attrs: attrs})
	attrs["reason"] = "mutated"
	require.NoError(t, p.Close(context.Background()))

	events, err := mem.Recent(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bad_password", events[0].Attrs["reason"])
}
