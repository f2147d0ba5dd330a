// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenBytes is the entropy of a session id: 32 bytes = 64 hex chars.
const SessionTokenBytes = 32

// Session is an authenticated session. ID is the raw token held by the
// client; only TokenHash is ever persisted.
type Session struct {
	ID           string `json:"-"`
	TokenHash    string `json:"-"`
	UserID       ulid.ULID
	Username     string
	Role         string
	FullName     string
	CreatedAt    time.Time // reset on every rotation
	StartedAt    time.Time // first creation, basis of the absolute limit
	LastActivity time.Time
	UserAgent    string
	IPAddress    string
	Device       string

	// Rotated is set by SessionManager.Touch when ID changed during the call.
	Rotated bool `json:"-"`
}

// Clone returns a copy of s with the raw ID and Rotated flag cleared.
// Stores keep clones so callers cannot mutate stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.ID = ""
	c.Rotated = false
	return &c
}

// ClientMeta describes the client that created a session.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the client; the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken computes the SHA256 hash of an opaque token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken checks if the plaintext token matches the stored hash in
// constant time.
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SessionRepository persists sessions keyed by token hash. Implementations
// need not serialize per-session work; SessionManager does that.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session. Returns ErrNotFound when absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Rotate replaces the session stored under oldHash with session, which
	// carries the new TokenHash. Returns ErrNotFound when oldHash is absent.
	Rotate(ctx context.Context, oldHash string, session *Session) error

	// UpdateActivity sets LastActivity. Returns ErrNotFound when absent.
	UpdateActivity(ctx context.Context, tokenHash string, at time.Time) error

	// Delete removes a session. Returns ErrNotFound when absent.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteByUser removes every session for a user and returns the count.
	DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error)

	// DeleteIdle removes sessions whose LastActivity is before cutoff.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}
