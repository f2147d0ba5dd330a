// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package audit

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/auth"
	"github.com/wardenauth/warden/pkg/errutil"
)

// DefaultBufferSize is the publisher queue length when none is given.
const DefaultBufferSize = 1024

// Publisher queues events for a Writer. It implements auth.AuditSink.
type Publisher struct {
	writer       Writer
	logger       *slog.Logger
	onDrop       func()
	writeTimeout time.Duration
	now          func() time.Time

	queue chan auth.AuditEvent
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBufferSize sets the queue length.
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan auth.AuditEvent, n)
		}
	}
}

// WithLogger sets the logger for write failures.
func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDropCounter registers fn to be called for every dropped event.
func WithDropCounter(fn func()) PublisherOption {
	return func(p *Publisher) { p.onDrop = fn }
}

// WithWriteTimeout bounds each Write call. Default 5s.
func WithWriteTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// NewPublisher starts a publisher worker. Call Close to stop it.
func NewPublisher(w Writer, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		writer:       w,
		logger:       slog.Default(),
		onDrop:       func() {},
		writeTimeout: 5 * time.Second,
		now:          time.Now,
		queue:        make(chan auth.AuditEvent, DefaultBufferSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Record implements auth.AuditSink. It never blocks; a full queue or a
// closed publisher drops the event.
func (p *Publisher) Record(_ context.Context, event auth.AuditEvent) {
	if event.Time.IsZero() {
		event.Time = p.now()
	}
	event.Attrs = maps.Clone(event.Attrs)

	select {
	case <-p.stop:
		p.drop(event, "publisher closed")
		return
	default:
	}

	select {
	case p.queue <- event:
	default:
		p.drop(event, "buffer full")
	}
}

func (p *Publisher) drop(event auth.AuditEvent, reason string) {
	p.onDrop()
	p.logger.Warn("audit event dropped", "action", event.Action, "reason", reason)
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.queue:
			p.write(ev)
		case <-p.stop:
			for {
				select {
				case ev := <-p.queue:
					p.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) write(ev auth.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	if err := p.writer.Write(ctx, ev); err != nil {
		errutil.LogErrorContext(ctx, p.logger, "audit write failed", err, "action", ev.Action)
	}
}

// Close stops accepting events and waits for queued ones to be written,
// up to ctx's deadline.
func (p *Publisher) Close(ctx context.Context) error {
	p.once.Do(func() { close(p.stop) })
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return oops.Code("AUDIT_CLOSE_TIMEOUT").Wrap(ctx.Err())
	}
}

var _ auth.AuditSink = (*Publisher)(nil)
