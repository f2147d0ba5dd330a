// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/auth"
)

// UserRepository is an in-memory auth.UserRepository. Username and email
// uniqueness are checked and claimed under one lock.
type UserRepository struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*auth.User
	byUsername map[string]ulid.ULID
	byEmail    map[string]ulid.ULID
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[ulid.ULID]*auth.User),
		byUsername: make(map[string]ulid.ULID),
		byEmail:    make(map[string]ulid.ULID),
	}
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Create implements auth.UserRepository.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[fold(user.Username)]; ok {
		return oops.Code("USER_CREATE_FAILED").With("field", "username").Wrap(auth.ErrConflict)
	}
	if _, ok := r.byEmail[fold(user.Email)]; ok {
		return oops.Code("USER_CREATE_FAILED").With("field", "email").Wrap(auth.ErrConflict)
	}
	if _, ok := r.byID[user.ID]; ok {
		return oops.Code("USER_CREATE_FAILED").With("field", "id").Wrap(auth.ErrConflict)
	}

	stored := copyUser(user)
	r.byID[user.ID] = stored
	r.byUsername[fold(user.Username)] = user.ID
	r.byEmail[fold(user.Email)] = user.ID
	return nil
}

// GetByID implements auth.UserRepository.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return copyUser(u), nil
}

// GetByUsername implements auth.UserRepository.
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[fold(username)]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	return copyUser(r.byID[id]), nil
}

// GetByEmail implements auth.UserRepository.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[fold(email)]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return copyUser(r.byID[id]), nil
}

// UpdatePassword implements auth.UserRepository.
func (r *UserRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(id, func(u *auth.User) {
		u.PasswordHash = passwordHash
	})
}

// UpdateLastLogin implements auth.UserRepository.
func (r *UserRepository) UpdateLastLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.update(id, func(u *auth.User) {
		t := at
		u.LastLogin = &t
		u.FailedAttempts = 0
		u.LockedUntil = nil
	})
}

// RecordLoginFailure implements auth.UserRepository.
func (r *UserRepository) RecordLoginFailure(_ context.Context, id ulid.ULID, threshold int, lockUntil time.Time) error {
	return r.update(id, func(u *auth.User) {
		u.FailedAttempts++
		if threshold > 0 && u.FailedAttempts >= threshold {
			t := lockUntil
			u.LockedUntil = &t
		}
	})
}

// SetActive enables or disables an account. It is not part of
// auth.UserRepository; the seed command and tests use it.
func (r *UserRepository) SetActive(_ context.Context, id ulid.ULID, active bool) error {
	return r.update(id, func(u *auth.User) {
		u.IsActive = active
	})
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *UserRepository) update(id ulid.ULID, fn func(*auth.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func copyUser(u *auth.User) *auth.User {
	c := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

var _ auth.UserRepository = (*UserRepository)(nil)
