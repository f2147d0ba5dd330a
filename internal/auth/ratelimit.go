// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LockoutPolicy locks an account after repeated failed logins.
type LockoutPolicy struct {
	// Threshold is the number of consecutive failures that triggers a
	// lockout. Zero disables lockout.
	Threshold int `koanf:"threshold" json:"threshold" jsonschema:"minimum=0"`

	// Duration is how long the account stays locked.
	Duration time.Duration `koanf:"duration" json:"duration"`
}

// DefaultLockoutPolicy locks for 15 minutes after 7 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 7, Duration: 15 * time.Minute}
}

// Enabled reports whether lockout applies.
func (p LockoutPolicy) Enabled() bool {
	return p.Threshold > 0 && p.Duration > 0
}

// IsLockedOut returns true if lockedUntil is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// ThrottleConfig sets the per-client login attempt rate.
type ThrottleConfig struct {
	// Rate is the sustained attempts per second per username and IP pair.
	// Zero disables throttling.
	Rate float64 `koanf:"rate" json:"rate" jsonschema:"minimum=0"`
	// Burst is the number of attempts allowed at once.
	Burst int `koanf:"burst" json:"burst" jsonschema:"minimum=0"`
	// IdleTTL drops limiter state for keys unused this long.
	IdleTTL time.Duration `koanf:"idle_ttl" json:"idle_ttl"`
}

// DefaultThrottleConfig allows a burst of 5 then one attempt every 2s.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{Rate: 0.5, Burst: 5, IdleTTL: 10 * time.Minute}
}

// LoginThrottle rate-limits login attempts per (username, ip) pair.
type LoginThrottle struct {
	cfg      ThrottleConfig
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	lastGC   time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginThrottle creates a throttle. A zero Rate yields a throttle that
// allows everything.
func NewLoginThrottle(cfg ThrottleConfig) *LoginThrottle {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &LoginThrottle{cfg: cfg, limiters: make(map[string]*throttleEntry)}
}

// Allow reports whether an attempt for username from ip may proceed at now.
func (t *LoginThrottle) Allow(username, ip string, now time.Time) bool {
	if t == nil || t.cfg.Rate <= 0 {
		return true
	}
	key := strings.ToLower(username) + "|" + ip

	t.mu.Lock()
	defer t.mu.Unlock()

	t.gcLocked(now)

	entry, ok := t.limiters[key]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(rate.Limit(t.cfg.Rate), t.cfg.Burst)}
		t.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// gcLocked drops idle limiters at most once per IdleTTL.
func (t *LoginThrottle) gcLocked(now time.Time) {
	if now.Sub(t.lastGC) < t.cfg.IdleTTL {
		return
	}
	t.lastGC = now
	for key, entry := range t.limiters {
		if now.Sub(entry.lastSeen) > t.cfg.IdleTTL {
			delete(t.limiters, key)
		}
	}
}
