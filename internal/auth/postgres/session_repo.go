// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/auth"
)

const sessionColumns = `token_hash, user_id, username, role, full_name, created_at,
	started_at, last_activity, user_agent, ip_address, device`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
// Rows are keyed by token hash; the raw session id is never written.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const insertSession = `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

func sessionArgs(s *auth.Session) []any {
	return []any{
		s.TokenHash,
		s.UserID.String(),
		s.Username,
		s.Role,
		s.FullName,
		s.CreatedAt,
		s.StartedAt,
		s.LastActivity,
		s.UserAgent,
		s.IPAddress,
		s.Device,
	}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	if _, err := r.db.Exec(ctx, insertSession, sessionArgs(session)...); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// Rotate swaps the row under oldHash for session in one transaction.
func (r *SessionRepository) Rotate(ctx context.Context, oldHash string, session *auth.Session) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, oldHash)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").With("operation", "delete old session").Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, insertSession, sessionArgs(session)...); err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "insert rotated session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// UpdateActivity sets last_activity.
func (r *SessionRepository) UpdateActivity(ctx context.Context, tokenHash string, at time.Time) error {
	result, err := r.db.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE token_hash = $1`, tokenHash, at)
	if err != nil {
		return oops.Code("SESSION_UPDATE_FAILED").With("operation", "update activity").Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, tokenHash string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "delete session").Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes every session for a user.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID.String())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteIdle removes sessions inactive since before cutoff.
func (r *SessionRepository) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("operation", "delete idle sessions").Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		s         auth.Session
		userIDStr string
	)
	if err := row.Scan(
		&s.TokenHash,
		&userIDStr,
		&s.Username,
		&s.Role,
		&s.FullName,
		&s.CreatedAt,
		&s.StartedAt,
		&s.LastActivity,
		&s.UserAgent,
		&s.IPAddress,
		&s.Device,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_PARSE_FAILED").With("user_id", userIDStr).Wrap(err)
	}
	s.UserID = userID
	return &s, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
