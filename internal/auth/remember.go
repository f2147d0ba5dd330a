// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultRememberLifetime is how long a remember-me token stays valid.
const DefaultRememberLifetime = 30 * 24 * time.Hour

// RememberToken binds a hashed remember-me value to a user. The raw value
// lives only in the client cookie.
type RememberToken struct {
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpiredAt returns true if the token is expired at t.
func (r *RememberToken) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// RememberTokenRepository persists remember-me tokens by hash.
type RememberTokenRepository interface {
	// Create stores a token.
	Create(ctx context.Context, token *RememberToken) error

	// GetByTokenHash returns the token stored under hash, or ErrNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RememberToken, error)

	// Delete removes a token. Missing tokens are not an error.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteByUser removes every token for a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error
}

// ErrRememberNotConnected is returned by DisconnectedRememberTokens.
var ErrRememberNotConnected = oops.In("auth").
	Code("REMEMBER_NOT_CONNECTED").
	Errorf("remember-me storage not connected")

// DisconnectedRememberTokens is the RememberTokenRepository used when no
// durable token storage is configured. Issuing fails, lookups find nothing,
// and revocation succeeds trivially, so remember-me fails closed.
type DisconnectedRememberTokens struct{}

// Create always fails.
func (DisconnectedRememberTokens) Create(context.Context, *RememberToken) error {
	return ErrRememberNotConnected
}

// GetByTokenHash never finds a token.
func (DisconnectedRememberTokens) GetByTokenHash(context.Context, string) (*RememberToken, error) {
	return nil, oops.In("auth").Code("REMEMBER_NOT_CONNECTED").Wrap(ErrNotFound)
}

// Delete is a no-op.
func (DisconnectedRememberTokens) Delete(context.Context, string) error { return nil }

// DeleteByUser is a no-op.
func (DisconnectedRememberTokens) DeleteByUser(context.Context, ulid.ULID) error { return nil }

var _ RememberTokenRepository = DisconnectedRememberTokens{}
