// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/keylock"
	"github.com/wardenauth/warden/pkg/errutil"
)

// Audit actions recorded by the Service.
const (
	ActionLogin           = "login"
	ActionLoginFailed     = "login_failed"
	ActionRegister        = "register"
	ActionLogout          = "logout"
	ActionSessionExpired  = "session_expired"
	ActionRememberLogin   = "remember_login"
	ActionPasswordChanged = "password_changed"
	ActionPasswordReset   = "password_reset"
	ActionAccessDenied    = "access_denied"
)

// Login failure reasons. They reach the audit log only, never the caller.
const (
	failUnknownUser = "unknown_user"
	failBadPassword = "bad_password"
	failInactive    = "inactive"
	failLocked      = "locked"
	failThrottled   = "rate_limited"
)

// dummyPasswordHash is verified against when a user doesn't exist so
// response time does not reveal whether the username is registered.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Gate decides whether a role holds a permission. access.StaticGate
// implements it.
type Gate interface {
	Check(role, permission string) bool
	KnownRole(role string) bool
}

// Service provides authentication operations.
type Service struct {
	users       UserRepository
	sessions    *SessionManager
	hasher      PasswordHasher
	policy      PasswordPolicy
	gate        Gate
	remember    RememberTokenRepository
	rememberTTL time.Duration
	notifier    ResetNotifier
	logger      *slog.Logger
	audit       AuditSink
	metrics     Metrics
	lockout     LockoutPolicy
	throttle    *LoginThrottle
	now         func() time.Time
	locks       *keylock.ShardedMutex
	validate    *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAuditSink sets where activity records go.
func WithAuditSink(sink AuditSink) Option {
	return func(s *Service) { s.audit = sink }
}

// WithRememberTokens connects remember-me storage. Without it remember-me
// is disabled.
func WithRememberTokens(repo RememberTokenRepository) Option {
	return func(s *Service) { s.remember = repo }
}

// WithRememberLifetime sets how long issued remember-me tokens last.
func WithRememberLifetime(d time.Duration) Option {
	return func(s *Service) { s.rememberTTL = d }
}

// WithNotifier sets the temporary password delivery channel.
func WithNotifier(n ResetNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLockout sets the account lockout policy.
func WithLockout(p LockoutPolicy) Option {
	return func(s *Service) { s.lockout = p }
}

// WithLoginThrottle sets the per-client login throttle.
func WithLoginThrottle(t *LoginThrottle) Option {
	return func(s *Service) { s.throttle = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(users UserRepository, sessions *SessionManager, hasher PasswordHasher, policy PasswordPolicy, gate Gate, opts ...Option) (*Service, error) {
	switch {
	case users == nil:
		return nil, oops.In("auth").Code("AUTH_CONFIG_INVALID").Errorf("user repository is required")
	case sessions == nil:
		return nil, oops.In("auth").Code("AUTH_CONFIG_INVALID").Errorf("session manager is required")
	case hasher == nil:
		return nil, oops.In("auth").Code("AUTH_CONFIG_INVALID").Errorf("password hasher is required")
	case gate == nil:
		return nil, oops.In("auth").Code("AUTH_CONFIG_INVALID").Errorf("authorization gate is required")
	}

	s := &Service{
		users:       users,
		sessions:    sessions,
		hasher:      hasher,
		policy:      policy,
		gate:        gate,
		remember:    DisconnectedRememberTokens{},
		rememberTTL: DefaultRememberLifetime,
		logger:      slog.Default(),
		audit:       nopAuditSink{},
		metrics:     nopMetrics{},
		lockout:     DefaultLockoutPolicy(),
		now:         time.Now,
		locks:       keylock.New(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	s.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("json")
	})
	return s, nil
}

// LoginRequest is the input to Login.
type LoginRequest struct {
	Username string
	Password string
	Remember bool

	// PriorSessionID is any session id the client presented before
	// logging in. It is destroyed.
	PriorSessionID string

	UserAgent string
	IPAddress string
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User    *Profile
	Session *Session

	// RememberToken is the raw remember-me value for the client cookie, or
	// "" when none was issued.
	RememberToken     string
	RememberExpiresAt time.Time
}

// Login authenticates a user and starts a session. Unknown usernames and
// wrong passwords fail with the same error and comparable latency.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	username := NormalizeUsername(req.Username)
	now := s.now()

	if !s.throttle.Allow(username, req.IPAddress, now) {
		s.loginFailed(ctx, username, "", failThrottled, req.IPAddress)
		s.metrics.LoginAttempt(OutcomeRateLimited)
		return nil, errRateLimited()
	}

	var user *User
	targetHash := dummyPasswordHash
	if username != "" {
		found, err := s.users.GetByUsername(ctx, username)
		switch {
		case err == nil:
			user = found
			targetHash = found.PasswordHash
		case errors.Is(err, ErrNotFound):
		default:
			s.metrics.LoginAttempt(OutcomeError)
			return nil, s.storeError(ctx, "get user by username", err)
		}
	}

	// Always verify so unknown users cost the same as known ones.
	valid, verifyErr := s.hasher.Verify(req.Password, targetHash)
	if verifyErr != nil && user != nil {
		errutil.LogErrorContext(ctx, s.logger, "stored password hash unreadable", verifyErr,
			"user_id", user.ID.String())
	}

	if user == nil || !valid || verifyErr != nil {
		reason := failUnknownUser
		actor := ""
		if user != nil {
			reason = failBadPassword
			actor = user.ID.String()
			s.recordFailure(ctx, user, now)
		}
		s.loginFailed(ctx, username, actor, reason, req.IPAddress)
		s.metrics.LoginAttempt(OutcomeInvalidCredentials)
		return nil, errInvalidCredentials()
	}

	// Account state is checked only after a correct password so the
	// distinct errors below cannot be used to probe unknown credentials.
	if !user.IsActive {
		s.loginFailed(ctx, username, user.ID.String(), failInactive, req.IPAddress)
		s.metrics.LoginAttempt(OutcomeInactive)
		return nil, errAccountInactive()
	}
	if user.IsLockedAt(now) {
		s.loginFailed(ctx, username, user.ID.String(), failLocked, req.IPAddress)
		s.metrics.LoginAttempt(OutcomeLocked)
		return nil, errAccountLocked(user.LockedUntil)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to record last login", err,
			"user_id", user.ID.String())
	} else {
		at := now
		user.LastLogin = &at
		user.FailedAttempts = 0
		user.LockedUntil = nil
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, req.Password)
	}

	session, err := s.sessions.Create(ctx, user, ClientMeta{UserAgent: req.UserAgent, IPAddress: req.IPAddress}, req.PriorSessionID)
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, s.classify(ctx, "create session", err)
	}

	result := &LoginResult{User: user.Profile(), Session: session}
	if req.Remember {
		token, expires, err := s.issueRemember(ctx, user.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "remember-me token not issued",
				"user_id", user.ID.String(),
				"error", err)
		} else {
			result.RememberToken = token
			result.RememberExpiresAt = expires
		}
	}

	s.metrics.LoginAttempt(OutcomeSuccess)
	s.record(ctx, AuditEvent{
		Action:   ActionLogin,
		ActorID:  user.ID.String(),
		Severity: slog.LevelInfo,
		Message:  "user logged in",
		Attrs: map[string]string{
			"username":   user.Username,
			"ip_address": req.IPAddress,
			"device":     session.Device,
			"remember":   boolString(result.RememberToken != ""),
		},
	})
	return result, nil
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	Username  string `json:"username" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Role      string `json:"role" validate:"required"`
}

// Register creates an account and returns its id. Checks run in a fixed
// order and the first failure is returned.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (ulid.ULID, error) {
	req.Username = NormalizeUsername(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Role = strings.TrimSpace(req.Role)

	if err := s.checkRegistration(req); err != nil {
		s.metrics.Registration(OutcomeValidationFailed)
		return ulid.ULID{}, err
	}

	for _, probe := range []struct {
		field string
		get   func(context.Context, string) (*User, error)
		value string
	}{
		{"username", s.users.GetByUsername, req.Username},
		{"email", s.users.GetByEmail, req.Email},
	} {
		_, err := probe.get(ctx, probe.value)
		switch {
		case err == nil:
			s.metrics.Registration(OutcomeConflict)
			return ulid.ULID{}, errConflict(probe.field, nil)
		case errors.Is(err, ErrNotFound):
		default:
			s.metrics.Registration(OutcomeError)
			return ulid.ULID{}, s.storeError(ctx, "get user by "+probe.field, err)
		}
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.metrics.Registration(OutcomeError)
		return ulid.ULID{}, oops.In("auth").Code("AUTH_HASH_FAILED").Wrap(hide(err))
	}
	req.Password = ""

	user, err := NewUser(req.Username, req.Email, hash, req.FirstName, req.LastName, req.Role)
	if err != nil {
		s.metrics.Registration(OutcomeValidationFailed)
		return ulid.ULID{}, errValidation("username", "invalid_format", err.Error())
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			field, _ := ErrorContext(err, "field")
			name, _ := field.(string)
			if name == "" {
				name = "username"
			}
			s.metrics.Registration(OutcomeConflict)
			return ulid.ULID{}, errConflict(name, err)
		}
		s.metrics.Registration(OutcomeError)
		return ulid.ULID{}, s.storeError(ctx, "create user", err)
	}

	s.metrics.Registration(OutcomeSuccess)
	s.record(ctx, AuditEvent{
		Action:   ActionRegister,
		ActorID:  user.ID.String(),
		Severity: slog.LevelInfo,
		Message:  "user registered",
		Attrs: map[string]string{
			"username": user.Username,
			"role":     user.Role,
		},
	})
	return user.ID, nil
}

func (s *Service) checkRegistration(req RegisterRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].Field()
			return errValidation(field, "required", field+" is required")
		}
		return oops.In("auth").Code(CodeValidationFailed).Wrap(hide(err))
	}
	if err := ValidateUsername(req.Username); err != nil {
		return errValidation("username", "invalid_format", err.Error())
	}
	if err := s.validate.Var(req.Email, "email"); err != nil {
		return errValidation("email", "invalid_format", "email address is not valid")
	}
	if result := s.policy.Validate(req.Password); !result.Valid {
		return result.Err()
	}
	if !s.gate.KnownRole(req.Role) {
		return errValidation("role", "unknown_role", "role is not recognized")
	}
	return nil
}

// ChangePassword replaces a user's password after verifying the current
// one. A wrong current password and a weak new one fail with different
// error kinds; in both cases the stored hash is unchanged.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errUserNotFound(userID.String())
		}
		return s.storeError(ctx, "get user by id", err)
	}

	valid, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil || !valid {
		return oops.In("auth").
			Code(CodeInvalidCredentials).
			With("user_id", userID.String()).
			Public(MsgWrongPassword).
			Errorf(MsgWrongPassword)
	}

	if result := s.policy.Validate(next); !result.Valid {
		return result.Err()
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return oops.In("auth").Code("AUTH_HASH_FAILED").Wrap(hide(err))
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return errUserNotFound(userID.String())
		}
		return s.storeError(ctx, "update password", err)
	}

	if err := s.remember.DeleteByUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke remember-me tokens",
			"user_id", userID.String(),
			"error", err)
	}

	s.record(ctx, AuditEvent{
		Action:   ActionPasswordChanged,
		ActorID:  userID.String(),
		Severity: slog.LevelInfo,
		Message:  "password changed",
	})
	return nil
}

// ResetPassword issues a temporary password for the account registered
// under email and hands it to the notifier. The returned message is the
// same whether or not the account exists.
func (s *Service) ResetPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errValidation("email", "required", "email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", s.storeError(ctx, "get user by email", err)
		}
		s.equalizeTiming()
		s.logger.DebugContext(ctx, "password reset requested for unknown email")
		return ResetRequestedMessage, nil
	}
	if !user.IsActive {
		s.equalizeTiming()
		s.logger.DebugContext(ctx, "password reset requested for inactive account",
			"user_id", user.ID.String())
		return ResetRequestedMessage, nil
	}

	// Past this point failures are logged only; surfacing them would tell
	// the caller the email is registered.
	if err := s.issueTemporaryPassword(ctx, user); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "password reset failed", err,
			"user_id", user.ID.String())
	}
	return ResetRequestedMessage, nil
}

func (s *Service) issueTemporaryPassword(ctx context.Context, user *User) error {
	temp, err := GenerateTemporaryPassword()
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(temp)
	if err != nil {
		return oops.In("auth").Code("AUTH_HASH_FAILED").Wrap(hide(err))
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return errStoreUnavailable("update password", err)
	}

	if _, err := s.sessions.DestroyUser(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke sessions after reset",
			"user_id", user.ID.String(),
			"error", err)
	}
	if err := s.remember.DeleteByUser(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke remember-me tokens after reset",
			"user_id", user.ID.String(),
			"error", err)
	}

	s.record(ctx, AuditEvent{
		Action:   ActionPasswordReset,
		ActorID:  user.ID.String(),
		Severity: slog.LevelWarn,
		Message:  "temporary password issued",
	})

	if err := s.notifier.SendTemporaryPassword(ctx, user.Profile(), temp); err != nil {
		return oops.In("auth").Code("AUTH_NOTIFY_FAILED").Wrap(hide(err))
	}
	return nil
}

// equalizeTiming spends one hash verification so requests for unknown
// accounts take as long as requests for known ones.
func (s *Service) equalizeTiming() {
	_, _ = s.hasher.Verify("", dummyPasswordHash) //nolint:errcheck // timing only
}

func (s *Service) recordFailure(ctx context.Context, user *User, now time.Time) {
	threshold := 0
	lockUntil := now
	if s.lockout.Enabled() {
		threshold = s.lockout.Threshold
		lockUntil = now.Add(s.lockout.Duration)
	}
	if err := s.users.RecordLoginFailure(ctx, user.ID, threshold, lockUntil); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to record login failure", err,
			"user_id", user.ID.String())
	}
}

func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID.String(), "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.WarnContext(ctx, "failed to store upgraded hash", "user_id", user.ID.String(), "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

func (s *Service) loginFailed(ctx context.Context, username, actorID, reason, ip string) {
	s.record(ctx, AuditEvent{
		Action:   ActionLoginFailed,
		ActorID:  actorID,
		Severity: slog.LevelWarn,
		Message:  "login failed",
		Attrs: map[string]string{
			"username":   username,
			"reason":     reason,
			"ip_address": ip,
		},
	})
}

func (s *Service) record(ctx context.Context, event AuditEvent) {
	if event.Time.IsZero() {
		event.Time = s.now()
	}
	s.audit.Record(ctx, event)
}

// storeError logs a backing-store failure in full and returns the
// StoreUnavailable error shown to callers.
func (s *Service) storeError(ctx context.Context, operation string, err error) error {
	errutil.LogErrorContext(ctx, s.logger, "store operation failed", err, "operation", operation)
	return errStoreUnavailable(operation, err)
}

// classify passes coded auth errors through and treats anything else as a
// store failure.
func (s *Service) classify(ctx context.Context, operation string, err error) error {
	if ErrorKind(err) != "" {
		if ErrorKind(err) == CodeStoreUnavailable {
			errutil.LogErrorContext(ctx, s.logger, "store operation failed", err, "operation", operation)
		}
		return err
	}
	return s.storeError(ctx, operation, err)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
