// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/auth"
)

// DB is the subset of *pgxpool.Pool PostgresWriter uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresWriter stores events in the activity_log table.
type PostgresWriter struct {
	db DB
}

// NewPostgresWriter creates a PostgresWriter.
func NewPostgresWriter(db DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// Write implements Writer.
func (w *PostgresWriter) Write(ctx context.Context, event auth.AuditEvent) error {
	attrs := event.Attrs
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").With("action", event.Action).Wrap(err)
	}

	_, err = w.db.Exec(ctx, `
		INSERT INTO activity_log (id, action, actor_id, severity, message, attrs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		ulid.Make().String(),
		event.Action,
		event.ActorID,
		event.Severity.String(),
		event.Message,
		attrsJSON,
		event.Time,
	)
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").
			With("action", event.Action).
			With("actor_id", event.ActorID).
			Wrap(err)
	}
	return nil
}

// Recent implements Reader.
func (w *PostgresWriter) Recent(ctx context.Context, actorID string, limit int) ([]auth.AuditEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := w.db.Query(ctx, `
		SELECT action, actor_id, severity, message, attrs, created_at
		FROM activity_log
		WHERE $1 = '' OR actor_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, actorID, limit)
	if err != nil {
		return nil, oops.Code("AUDIT_READ_FAILED").With("operation", "query activity").Wrap(err)
	}
	defer rows.Close()

	var out []auth.AuditEvent
	for rows.Next() {
		var (
			ev       auth.AuditEvent
			severity string
			attrs    []byte
			at       time.Time
		)
		if err := rows.Scan(&ev.Action, &ev.ActorID, &severity, &ev.Message, &attrs, &at); err != nil {
			return nil, oops.Code("AUDIT_READ_FAILED").With("operation", "scan activity row").Wrap(err)
		}
		if err := ev.Severity.UnmarshalText([]byte(severity)); err != nil {
			ev.Severity = slog.LevelInfo
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &ev.Attrs); err != nil {
				return nil, oops.Code("AUDIT_READ_FAILED").With("operation", "decode attrs").Wrap(err)
			}
		}
		ev.Time = at
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_READ_FAILED").With("operation", "iterate activity").Wrap(err)
	}
	return out, nil
}
