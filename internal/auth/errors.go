// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// Store-boundary sentinels. Repositories wrap these; the Service translates
// them into the coded errors below exactly once.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("conflict")
)

// Error codes surfaced by the auth package.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountInactive    = "AUTH_ACCOUNT_INACTIVE"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeValidationFailed   = "AUTH_VALIDATION_FAILED"
	CodeConflict           = "AUTH_CONFLICT"
	CodeNotFound           = "AUTH_NOT_FOUND"
	CodeStoreUnavailable   = "AUTH_STORE_UNAVAILABLE"
	CodeRateLimited        = "AUTH_RATE_LIMITED"
	CodeAccessDenied       = "AUTH_ACCESS_DENIED"
	CodeSessionExpired     = "SESSION_EXPIRED"
)

// User-facing messages. Login and reset messages are deliberately vague.
const (
	MsgInvalidCredentials = "invalid username or password"
	MsgWrongPassword      = "current password is incorrect"
	MsgAccountInactive    = "account is disabled"
	MsgAccountLocked      = "account is temporarily locked"
	MsgStoreUnavailable   = "service temporarily unavailable"
	MsgRateLimited        = "too many login attempts, try again later"
	MsgSessionExpired     = "session has expired"
)

// Access denial reasons carried in the "reason" context key.
const (
	ReasonLoginRequired = "login_required"
	ReasonForbidden     = "forbidden"
)

// errInvalidCredentials builds the single error returned for unknown users
// and wrong passwords.
func errInvalidCredentials() error {
	return oops.In("auth").
		Code(CodeInvalidCredentials).
		Public(MsgInvalidCredentials).
		Errorf(MsgInvalidCredentials)
}

// errValidation builds a ValidationFailed error for a field.
func errValidation(field, reason, msg string) error {
	return oops.In("auth").
		Code(CodeValidationFailed).
		With("field", field).
		With("reason", reason).
		Public(msg).
		Errorf("%s", msg)
}

// errStoreUnavailable wraps a backing-store failure. The public message never
// carries internal detail.
func errStoreUnavailable(operation string, err error) error {
	return oops.In("auth").
		Code(CodeStoreUnavailable).
		With("operation", operation).
		With("store_code", ErrorKind(err)).
		Public(MsgStoreUnavailable).
		Wrap(hide(err))
}

// hiddenCause keeps a lower-layer error reachable through errors.Is while
// stopping oops from reading its code, context and public message: oops
// reports the deepest value, which must be the auth one.
type hiddenCause struct{ err error }

func (c hiddenCause) Error() string { return c.err.Error() }

func (c hiddenCause) Is(target error) bool { return errors.Is(c.err, target) }

// hide wraps err in hiddenCause when it carries oops attributes.
func hide(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := oops.AsOops(err); !ok {
		return err
	}
	return hiddenCause{err: err}
}

// errAccessDenied signals a failed requireLogin/requirePermission gate.
func errAccessDenied(reason, permission string) error {
	b := oops.In("auth").
		Code(CodeAccessDenied).
		With("reason", reason)
	if permission != "" {
		b = b.With("permission", permission)
	}
	return b.Public("access denied").Errorf("access denied: %s", reason)
}

// ErrorKind returns the auth error code carried by err, or "" when err is
// nil or carries no code.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// PublicMessage returns the message that is safe to show an end user.
func PublicMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if msg := oopsErr.Public(); msg != "" {
			return msg
		}
	}
	return MsgStoreUnavailable
}

// ErrorContext returns the value stored under key in err's oops context.
func ErrorContext(err error, key string) (any, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil, false
	}
	v, ok := oopsErr.Context()[key]
	return v, ok
}

func errAccountInactive() error {
	return oops.In("auth").
		Code(CodeAccountInactive).
		Public(MsgAccountInactive).
		Errorf(MsgAccountInactive)
}

func errAccountLocked(until *time.Time) error {
	b := oops.In("auth").Code(CodeAccountLocked)
	if until != nil {
		b = b.With("locked_until", until.UTC().Format(time.RFC3339))
	}
	return b.Public(MsgAccountLocked).Errorf(MsgAccountLocked)
}

func errRateLimited() error {
	return oops.In("auth").
		Code(CodeRateLimited).
		Public(MsgRateLimited).
		Errorf(MsgRateLimited)
}

// errConflict reports an existing username or email.
func errConflict(field string, cause error) error {
	msg := field + " already exists"
	b := oops.In("auth").
		Code(CodeConflict).
		With("field", field).
		Public(msg)
	if cause != nil {
		return b.Wrap(hide(cause))
	}
	return b.Wrap(ErrConflict)
}

func errUserNotFound(id string) error {
	return oops.In("auth").
		Code(CodeNotFound).
		With("user_id", id).
		Public("user not found").
		Wrap(ErrNotFound)
}
