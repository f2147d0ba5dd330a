// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/keylock"
)

// SessionConfig controls session lifetime.
type SessionConfig struct {
	// IdleTimeout destroys a session when no request arrives for longer
	// than this. Required.
	IdleTimeout time.Duration `koanf:"idle_timeout" json:"idle_timeout"`

	// RotationInterval regenerates the session id once the current id is
	// this old. Zero disables rotation.
	RotationInterval time.Duration `koanf:"rotation_interval" json:"rotation_interval"`

	// AbsoluteTimeout caps total session age regardless of activity. Zero
	// disables the cap.
	AbsoluteTimeout time.Duration `koanf:"absolute_timeout" json:"absolute_timeout"`

	// SweepInterval is how often idle sessions are purged from the store.
	SweepInterval time.Duration `koanf:"sweep_interval" json:"sweep_interval"`
}

// DefaultSessionConfig returns the session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:      30 * time.Minute,
		RotationInterval: 15 * time.Minute,
		AbsoluteTimeout:  12 * time.Hour,
		SweepInterval:    5 * time.Minute,
	}
}

// SessionManager owns every session state transition:
// Absent -> Active -> Expired/Destroyed.
//
// Mutations for one session are serialized by token hash, so concurrent
// requests carrying the same id cannot lose activity updates or race a
// rotation.
type SessionManager struct {
	repo    SessionRepository
	cfg     SessionConfig
	locks   *keylock.ShardedMutex
	now     func() time.Time
	logger  *slog.Logger
	metrics Metrics
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionClock overrides the time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// WithSessionMetrics sets the metrics sink.
func WithSessionMetrics(metrics Metrics) SessionOption {
	return func(m *SessionManager) {
		m.metrics = metrics
	}
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(repo SessionRepository, cfg SessionConfig, opts ...SessionOption) (*SessionManager, error) {
	if repo == nil {
		return nil, oops.In("auth").Code("SESSION_CONFIG_INVALID").Errorf("session repository is required")
	}
	if cfg.IdleTimeout <= 0 {
		return nil, oops.In("auth").Code("SESSION_CONFIG_INVALID").
			With("idle_timeout", cfg.IdleTimeout).
			Errorf("idle timeout must be positive")
	}
	if cfg.RotationInterval < 0 || cfg.AbsoluteTimeout < 0 {
		return nil, oops.In("auth").Code("SESSION_CONFIG_INVALID").
			Errorf("rotation interval and absolute timeout cannot be negative")
	}

	m := &SessionManager{
		repo:    repo,
		cfg:     cfg,
		locks:   keylock.New(),
		now:     time.Now,
		logger:  slog.Default(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the lifetime configuration.
func (m *SessionManager) Config() SessionConfig {
	return m.cfg
}

// Create starts a new session for user. A non-empty priorID is destroyed
// first so an id planted before login can never carry an authenticated
// session.
func (m *SessionManager) Create(ctx context.Context, user *User, meta ClientMeta, priorID string) (*Session, error) {
	if user == nil {
		return nil, oops.In("auth").Code("SESSION_INVALID_USER").Errorf("user is required")
	}
	if priorID != "" {
		if err := m.Destroy(ctx, priorID); err != nil {
			return nil, err
		}
	}

	token, hash, err := m.freshToken(priorID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &Session{
		ID:           token,
		TokenHash:    hash,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		FullName:     user.FullName(),
		CreatedAt:    now,
		StartedAt:    now,
		LastActivity: now,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
		Device:       DeviceLabel(meta.UserAgent),
	}

	if err := m.repo.Create(ctx, session.Clone()); err != nil {
		return nil, errStoreUnavailable("create session", err)
	}

	m.metrics.SessionEvent(SessionCreated, 1)
	m.logger.DebugContext(ctx, "session created",
		"user_id", user.ID.String(),
		"device", session.Device)
	return session, nil
}

// Touch records activity on a session. It is the liveness check and is NOT
// side-effect free: an idle or over-age session is destroyed and reported
// as SESSION_EXPIRED, and a live session whose id has reached the rotation
// interval gets a new id. Callers must reissue the client cookie whenever
// the returned session has Rotated set.
func (m *SessionManager) Touch(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errSessionNotFound()
	}
	hash := HashToken(id)

	m.locks.Lock(hash)
	defer m.locks.Unlock(hash)

	session, err := m.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if reason := m.expiryReason(session, now); reason != "" {
		if delErr := m.repo.Delete(ctx, hash); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			m.logger.WarnContext(ctx, "failed to delete expired session",
				"user_id", session.UserID.String(),
				"error", delErr)
		}
		m.metrics.SessionEvent(reason, 1)
		return nil, errSessionExpired(reason, session.UserID)
	}

	session.ID = id
	session.LastActivity = now

	if m.cfg.RotationInterval > 0 && now.Sub(session.CreatedAt) >= m.cfg.RotationInterval {
		token, newHash, err := m.freshToken(id)
		if err != nil {
			return nil, err
		}
		rotated := *session
		rotated.ID = token
		rotated.TokenHash = newHash
		rotated.CreatedAt = now

		if err := m.repo.Rotate(ctx, hash, rotated.Clone()); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, errSessionNotFound()
			}
			return nil, errStoreUnavailable("rotate session", err)
		}
		rotated.Rotated = true
		m.metrics.SessionEvent(SessionRotated, 1)
		m.logger.DebugContext(ctx, "session id rotated", "user_id", session.UserID.String())
		return &rotated, nil
	}

	if err := m.repo.UpdateActivity(ctx, hash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errSessionNotFound()
		}
		return nil, errStoreUnavailable("update session activity", err)
	}
	return session, nil
}

// Peek reads a session without recording activity, rotating, or deleting.
// An expired session is reported as SESSION_EXPIRED but left in place.
func (m *SessionManager) Peek(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errSessionNotFound()
	}
	session, err := m.lookup(ctx, HashToken(id))
	if err != nil {
		return nil, err
	}
	if reason := m.expiryReason(session, m.now()); reason != "" {
		return nil, errSessionExpired(reason, session.UserID)
	}
	session.ID = id
	return session, nil
}

// IsActive reports whether id names a live session. It calls Touch and
// therefore mutates state; use Peek for a read-only check.
func (m *SessionManager) IsActive(ctx context.Context, id string) bool {
	_, err := m.Touch(ctx, id)
	return err == nil
}

// Destroy removes a session. Destroying an absent session is a no-op.
func (m *SessionManager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	hash := HashToken(id)

	m.locks.Lock(hash)
	defer m.locks.Unlock(hash)

	if err := m.repo.Delete(ctx, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errStoreUnavailable("delete session", err)
	}
	m.metrics.SessionEvent(SessionDestroyed, 1)
	return nil
}

// DestroyUser removes every session belonging to userID.
func (m *SessionManager) DestroyUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	n, err := m.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, errStoreUnavailable("delete user sessions", err)
	}
	if n > 0 {
		m.metrics.SessionEvent(SessionDestroyed, int(n))
	}
	return n, nil
}

// Sweep deletes sessions that have been idle longer than the idle timeout.
func (m *SessionManager) Sweep(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)
	n, err := m.repo.DeleteIdle(ctx, cutoff)
	if err != nil {
		return 0, errStoreUnavailable("sweep idle sessions", err)
	}
	if n > 0 {
		m.metrics.SessionEvent(SessionSwept, int(n))
		m.logger.InfoContext(ctx, "swept idle sessions", "count", n)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled. It blocks;
// run it in its own goroutine.
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.IdleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.WarnContext(ctx, "session sweep failed", "error", err)
			}
		}
	}
}

func (m *SessionManager) lookup(ctx context.Context, hash string) (*Session, error) {
	session, err := m.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errSessionNotFound()
		}
		return nil, errStoreUnavailable("get session", err)
	}
	return session, nil
}

// expiryReason returns the session event explaining why session is expired
// at now, or "" when it is live.
func (m *SessionManager) expiryReason(session *Session, now time.Time) string {
	if now.Sub(session.LastActivity) > m.cfg.IdleTimeout {
		return SessionExpiredIdle
	}
	if m.cfg.AbsoluteTimeout > 0 && now.Sub(session.StartedAt) > m.cfg.AbsoluteTimeout {
		return SessionExpiredAbsolute
	}
	return ""
}

// freshToken generates a token guaranteed to differ from previous.
func (m *SessionManager) freshToken(previous string) (token, hash string, err error) {
	for {
		token, hash, err = GenerateSessionToken()
		if err != nil {
			return "", "", err
		}
		if token != previous {
			return token, hash, nil
		}
	}
}

func errSessionNotFound() error {
	return oops.In("auth").
		Code(CodeNotFound).
		Public("session not found").
		Wrap(ErrNotFound)
}

func errSessionExpired(reason string, userID ulid.ULID) error {
	return oops.In("auth").
		Code(CodeSessionExpired).
		With("reason", reason).
		With("user_id", userID.String()).
		Public(MsgSessionExpired).
		Errorf(MsgSessionExpired)
}
