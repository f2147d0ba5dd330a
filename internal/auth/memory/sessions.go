// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/auth"
)

// SessionStore is an in-memory auth.SessionRepository. Sessions do not
// survive a restart.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*auth.Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*auth.Session)}
}

// Create implements auth.SessionRepository.
func (s *SessionStore) Create(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.TokenHash]; ok {
		return oops.Code("SESSION_CREATE_FAILED").Wrap(auth.ErrConflict)
	}
	s.sessions[session.TokenHash] = session.Clone()
	return nil
}

// GetByTokenHash implements auth.SessionRepository.
func (s *SessionStore) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return session.Clone(), nil
}

// Rotate implements auth.SessionRepository.
func (s *SessionStore) Rotate(_ context.Context, oldHash string, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[oldHash]; !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(s.sessions, oldHash)
	s.sessions[session.TokenHash] = session.Clone()
	return nil
}

// UpdateActivity implements auth.SessionRepository.
func (s *SessionStore) UpdateActivity(_ context.Context, tokenHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	session.LastActivity = at
	return nil
}

// Delete implements auth.SessionRepository.
func (s *SessionStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[tokenHash]; !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(s.sessions, tokenHash)
	return nil
}

// DeleteByUser implements auth.SessionRepository.
func (s *SessionStore) DeleteByUser(_ context.Context, userID ulid.ULID) (int64, error) {
	return s.deleteWhere(func(session *auth.Session) bool {
		return session.UserID == userID
	}), nil
}

// DeleteIdle implements auth.SessionRepository.
func (s *SessionStore) DeleteIdle(_ context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(session *auth.Session) bool {
		return session.LastActivity.Before(cutoff)
	}), nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) deleteWhere(match func(*auth.Session) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, session := range s.sessions {
		if match(session) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n
}

var _ auth.SessionRepository = (*SessionStore)(nil)
