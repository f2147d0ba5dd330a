// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mssola/useragent"
)

// Outcome labels reported to Metrics.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInactive           = "inactive"
	OutcomeLocked             = "locked"
	OutcomeRateLimited        = "rate_limited"
	OutcomeValidationFailed   = "validation_failed"
	OutcomeConflict           = "conflict"
	OutcomeError              = "error"
)

// Session events reported to Metrics.
const (
	SessionCreated         = "created"
	SessionRotated         = "rotated"
	SessionExpiredIdle     = "expired_idle"
	SessionExpiredAbsolute = "expired_absolute"
	SessionDestroyed       = "destroyed"
	SessionSwept           = "swept"
	SessionRemembered      = "remembered"
)

// Metrics receives auth counters. observability.Metrics implements it.
type Metrics interface {
	LoginAttempt(outcome string)
	Registration(outcome string)
	SessionEvent(event string, n int)
	PermissionCheck(allowed bool)
}

type nopMetrics struct{}

func (nopMetrics) LoginAttempt(string)      {}
func (nopMetrics) Registration(string)      {}
func (nopMetrics) SessionEvent(string, int) {}
func (nopMetrics) PermissionCheck(bool)     {}

// AuditEvent is one activity record handed to an AuditSink.
type AuditEvent struct {
	Action   string
	ActorID  string
	Severity slog.Level
	Message  string
	Attrs    map[string]string
	Time     time.Time
}

// AuditSink records activity. Record must not block and must never fail
// the caller's operation.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, event AuditEvent)

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, event AuditEvent) {
	f(ctx, event)
}

type nopAuditSink struct{}

func (nopAuditSink) Record(context.Context, AuditEvent) {}

// DeviceLabel returns a display name such as "Firefox on Linux" for a
// User-Agent header.
func DeviceLabel(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}
