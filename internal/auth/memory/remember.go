// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/auth"
)

// RememberTokens is an in-memory auth.RememberTokenRepository. Only token
// hashes are held.
type RememberTokens struct {
	mu     sync.RWMutex
	tokens map[string]auth.RememberToken
}

// NewRememberTokens creates an empty store.
func NewRememberTokens() *RememberTokens {
	return &RememberTokens{tokens: make(map[string]auth.RememberToken)}
}

// Create implements auth.RememberTokenRepository.
func (r *RememberTokens) Create(_ context.Context, token *auth.RememberToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[token.TokenHash]; ok {
		return oops.Code("REMEMBER_CREATE_FAILED").Wrap(auth.ErrConflict)
	}
	r.tokens[token.TokenHash] = *token
	return nil
}

// GetByTokenHash implements auth.RememberTokenRepository.
func (r *RememberTokens) GetByTokenHash(_ context.Context, tokenHash string) (*auth.RememberToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[tokenHash]
	if !ok {
		return nil, oops.Code("REMEMBER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &token, nil
}

// Delete implements auth.RememberTokenRepository.
func (r *RememberTokens) Delete(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, tokenHash)
	return nil
}

// DeleteByUser implements auth.RememberTokenRepository.
func (r *RememberTokens) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, token := range r.tokens {
		if token.UserID == userID {
			delete(r.tokens, hash)
		}
	}
	return nil
}

// Len returns the number of stored tokens.
func (r *RememberTokens) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

var _ auth.RememberTokenRepository = (*RememberTokens)(nil)
