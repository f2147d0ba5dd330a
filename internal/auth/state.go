// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// ClientState is the session material a client presented with a request.
type ClientState struct {
	SessionID     string
	RememberToken string
	Meta          ClientMeta
}

// SessionState classifies a request's authentication.
type SessionState int

// Session states.
const (
	StateAnonymous SessionState = iota
	StateActive
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "anonymous"
	}
}

// Status is the result of resolving a ClientState. Besides the verdict it
// tells the transport which cookies to write or clear.
type Status struct {
	State   SessionState
	Session *Session

	// Reissue is set when Session.ID differs from the id the client sent.
	Reissue      bool
	ClearSession bool

	// RememberToken is a replacement remember-me value to hand the client.
	RememberToken     string
	RememberExpiresAt time.Time
	ClearRemember     bool
}

// LoggedIn reports whether the request carries a live session.
func (s Status) LoggedIn() bool {
	return s.State == StateActive && s.Session != nil
}

// IsLoggedIn resolves cs to a session. The check is mutating: a live
// session has its activity recorded and may be rotated, and an expired one
// is logged out. With no live session, a presented remember-me token is
// tried; any inconsistency there reports not-logged-in.
func (s *Service) IsLoggedIn(ctx context.Context, cs ClientState) Status {
	if cs.SessionID != "" {
		session, err := s.sessions.Touch(ctx, cs.SessionID)
		switch {
		case err == nil:
			return Status{
				State:   StateActive,
				Session: session,
				Reissue: session.Rotated,
			}
		case ErrorKind(err) == CodeSessionExpired:
			return s.expire(ctx, cs, err)
		case errors.Is(err, ErrNotFound):
		default:
			// Fail closed but keep cookies; the store may come back.
			s.logger.WarnContext(ctx, "session lookup failed", "error", err)
			return Status{State: StateAnonymous}
		}
	}

	if cs.RememberToken != "" {
		return s.rememberLogin(ctx, cs)
	}
	return Status{State: StateAnonymous, ClearSession: cs.SessionID != ""}
}

// expire performs logout for a session that Touch found expired.
func (s *Service) expire(ctx context.Context, cs ClientState, cause error) Status {
	actor, _ := ErrorContext(cause, "user_id")
	reason, _ := ErrorContext(cause, "reason")
	actorID, _ := actor.(string)
	reasonStr, _ := reason.(string)

	s.revokeRemember(ctx, cs.RememberToken)
	s.record(ctx, AuditEvent{
		Action:   ActionSessionExpired,
		ActorID:  actorID,
		Severity: slog.LevelInfo,
		Message:  "session expired",
		Attrs:    map[string]string{"reason": reasonStr},
	})
	return Status{
		State:         StateExpired,
		ClearSession:  true,
		ClearRemember: cs.RememberToken != "",
	}
}

// rememberLogin starts a fresh session from a remember-me token and rotates
// the token.
func (s *Service) rememberLogin(ctx context.Context, cs ClientState) Status {
	fail := Status{State: StateAnonymous, ClearSession: cs.SessionID != "", ClearRemember: true}
	hash := HashToken(cs.RememberToken)

	s.locks.Lock(hash)
	defer s.locks.Unlock(hash)

	token, err := s.remember.GetByTokenHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.WarnContext(ctx, "remember-me lookup failed", "error", err)
			fail.ClearRemember = false
		}
		return fail
	}

	now := s.now()
	if token.IsExpiredAt(now) || !VerifyToken(cs.RememberToken, token.TokenHash) {
		s.revokeRemember(ctx, cs.RememberToken)
		return fail
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil || !user.IsActive || user.IsLockedAt(now) {
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.WarnContext(ctx, "remember-me user lookup failed", "error", err)
			fail.ClearRemember = false
			return fail
		}
		s.revokeRemember(ctx, cs.RememberToken)
		return fail
	}

	session, err := s.sessions.Create(ctx, user, cs.Meta, cs.SessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "remember-me session create failed", "error", err)
		fail.ClearRemember = false
		return fail
	}

	status := Status{State: StateActive, Session: session, Reissue: true}

	s.revokeRemember(ctx, cs.RememberToken)
	if raw, expires, err := s.issueRemember(ctx, user.ID); err == nil {
		status.RememberToken = raw
		status.RememberExpiresAt = expires
	} else {
		s.logger.WarnContext(ctx, "remember-me token not rotated", "user_id", user.ID.String(), "error", err)
		status.ClearRemember = true
	}

	s.metrics.SessionEvent(SessionRemembered, 1)
	s.record(ctx, AuditEvent{
		Action:   ActionRememberLogin,
		ActorID:  user.ID.String(),
		Severity: slog.LevelInfo,
		Message:  "session restored from remember-me token",
		Attrs:    map[string]string{"device": session.Device},
	})
	return status
}

func (s *Service) issueRemember(ctx context.Context, userID ulid.ULID) (string, time.Time, error) {
	raw, hash, err := GenerateSessionToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	token := &RememberToken{
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.rememberTTL),
		CreatedAt: now,
	}
	if err := s.remember.Create(ctx, token); err != nil {
		return "", time.Time{}, err
	}
	return raw, token.ExpiresAt, nil
}

func (s *Service) revokeRemember(ctx context.Context, raw string) {
	if raw == "" {
		return
	}
	if err := s.remember.Delete(ctx, HashToken(raw)); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke remember-me token", "error", err)
	}
}

// Logout revokes the presented remember-me token and destroys the session.
// Logging out without a session succeeds.
func (s *Service) Logout(ctx context.Context, cs ClientState) error {
	var actorID string
	if cs.SessionID != "" {
		if session, err := s.sessions.Peek(ctx, cs.SessionID); err == nil {
			actorID = session.UserID.String()
		} else if v, ok := ErrorContext(err, "user_id"); ok {
			actorID, _ = v.(string)
		}
	}

	s.revokeRemember(ctx, cs.RememberToken)
	if err := s.sessions.Destroy(ctx, cs.SessionID); err != nil {
		return s.classify(ctx, "destroy session", err)
	}

	if actorID != "" {
		s.record(ctx, AuditEvent{
			Action:   ActionLogout,
			ActorID:  actorID,
			Severity: slog.LevelInfo,
			Message:  "user logged out",
		})
	}
	return nil
}

// CurrentUser returns the profile behind cs, or nil when not logged in.
func (s *Service) CurrentUser(ctx context.Context, cs ClientState) (*Profile, Status, error) {
	status := s.IsLoggedIn(ctx, cs)
	if !status.LoggedIn() {
		return nil, status, nil
	}

	user, err := s.users.GetByID(ctx, status.Session.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, status, s.storeError(ctx, "get user by id", err)
	}
	if err != nil || !user.IsActive {
		// Account removed or disabled after the session started.
		if derr := s.sessions.Destroy(ctx, status.Session.ID); derr != nil {
			s.logger.WarnContext(ctx, "failed to destroy orphaned session", "error", derr)
		}
		return nil, Status{State: StateAnonymous, ClearSession: true, ClearRemember: cs.RememberToken != ""}, nil
	}
	return user.Profile(), status, nil
}

// Permits reports whether an already-resolved session may use permission.
func (s *Service) Permits(session *Session, permission string) bool {
	if session == nil {
		return false
	}
	return s.gate.Check(session.Role, permission)
}

// HasPermission reports whether the request behind cs holds permission.
// Anonymous requests hold nothing.
func (s *Service) HasPermission(ctx context.Context, cs ClientState, permission string) (bool, Status) {
	status := s.IsLoggedIn(ctx, cs)
	allowed := status.LoggedIn() && s.Permits(status.Session, permission)
	s.metrics.PermissionCheck(allowed)
	return allowed, status
}

// RequireLogin fails with AUTH_ACCESS_DENIED (reason login_required) when
// cs has no live session.
func (s *Service) RequireLogin(ctx context.Context, cs ClientState) (Status, error) {
	status := s.IsLoggedIn(ctx, cs)
	if !status.LoggedIn() {
		return status, errAccessDenied(ReasonLoginRequired, "")
	}
	return status, nil
}

// RequirePermission is RequireLogin plus a gate check; a logged-in caller
// without the permission fails with reason forbidden.
func (s *Service) RequirePermission(ctx context.Context, cs ClientState, permission string) (Status, error) {
	status, err := s.RequireLogin(ctx, cs)
	if err != nil {
		s.metrics.PermissionCheck(false)
		return status, errAccessDenied(ReasonLoginRequired, permission)
	}
	if !s.Permits(status.Session, permission) {
		s.metrics.PermissionCheck(false)
		s.record(ctx, AuditEvent{
			Action:   ActionAccessDenied,
			ActorID:  status.Session.UserID.String(),
			Severity: slog.LevelWarn,
			Message:  "permission denied",
			Attrs: map[string]string{
				"permission": permission,
				"role":       status.Session.Role,
			},
		})
		return status, errAccessDenied(ReasonForbidden, permission)
	}
	s.metrics.PermissionCheck(true)
	return status, nil
}
