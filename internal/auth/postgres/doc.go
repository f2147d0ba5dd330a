// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package postgres implements the auth repositories on PostgreSQL.
//
// Usernames and emails are unique case-insensitively through expression
// indexes on lower(username) and lower(email); a violation of either is
// reported as auth.ErrConflict with a "field" context naming the column.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repositories use. pgxmock pools
// satisfy it as well.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Constraint names from the users migration.
const (
	constraintUsername = "users_username_lower_key"
	constraintEmail    = "users_email_lower_key"
	constraintPrimary  = "users_pkey"
)
