// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package config loads warden's configuration from a YAML file overlaid
// with command line flags.
package config

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/wardenauth/warden/internal/access"
	"github.com/wardenauth/warden/internal/auth"
)

// Remember-me storage backends.
const (
	RememberStoreDisconnected = "disconnected"
	RememberStoreMemory       = "memory"
)

// Config is the complete service configuration.
type Config struct {
	Session       auth.SessionConfig  `koanf:"session" json:"session"`
	Password      auth.PasswordPolicy `koanf:"password" json:"password"`
	Argon2        auth.Argon2Params   `koanf:"argon2" json:"argon2"`
	Lockout       auth.LockoutPolicy  `koanf:"lockout" json:"lockout"`
	Throttle      auth.ThrottleConfig `koanf:"throttle" json:"throttle"`
	Remember      RememberConfig      `koanf:"remember" json:"remember"`
	Roles         map[string][]string `koanf:"roles" json:"roles" jsonschema:"description=Permission patterns per role name"`
	HTTP          HTTPConfig          `koanf:"http" json:"http"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability"`
	Log           LogConfig           `koanf:"log" json:"log"`
	Audit         AuditConfig         `koanf:"audit" json:"audit"`
	Database      DatabaseConfig      `koanf:"database" json:"database"`
}

// RememberConfig controls remember-me tokens.
type RememberConfig struct {
	Lifetime time.Duration `koanf:"lifetime" json:"lifetime"`
	Store    string        `koanf:"store" json:"store" jsonschema:"enum=disconnected,enum=memory"`
}

// HTTPConfig controls the API listener and its cookies.
type HTTPConfig struct {
	Addr string `koanf:"addr" json:"addr"`
	// SecureCookies forces the Secure attribute even on plain HTTP, for
	// deployments behind a TLS-terminating proxy.
	SecureCookies   bool          `koanf:"secure_cookies" json:"secure_cookies"`
	ReadTimeout     time.Duration `koanf:"read_timeout" json:"read_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	TLS             TLSConfig     `koanf:"tls" json:"tls"`
}

// TLSConfig names the PEM files the API listener serves HTTPS with. Both
// empty means plain HTTP.
type TLSConfig struct {
	CertFile string `koanf:"cert_file" json:"cert_file"`
	KeyFile  string `koanf:"key_file" json:"key_file"`
}

// Enabled reports whether HTTPS is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// ObservabilityConfig controls the metrics and health listener. An empty
// Addr disables it.
type ObservabilityConfig struct {
	Addr string `koanf:"addr" json:"addr"`
}

// LogConfig controls logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// AuditConfig controls the activity record pipeline.
type AuditConfig struct {
	BufferSize int `koanf:"buffer_size" json:"buffer_size" jsonschema:"minimum=1"`
	// Postgres additionally writes records to the activity_log table.
	Postgres bool `koanf:"postgres" json:"postgres"`
}

// DatabaseConfig controls the connection pool. The URL itself comes from
// the DATABASE_URL environment variable and is never read from the file.
type DatabaseConfig struct {
	URL             string        `koanf:"-" json:"-"`
	MaxConns        int32         `koanf:"max_conns" json:"max_conns" jsonschema:"minimum=0"`
	ConnectAttempts uint64        `koanf:"connect_attempts" json:"connect_attempts" jsonschema:"minimum=0"`
	AutoMigrate     bool          `koanf:"auto_migrate" json:"auto_migrate"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time" json:"max_conn_idle_time"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Roles:    access.DefaultRoles(),
		Session:  auth.DefaultSessionConfig(),
		Password: auth.DefaultPasswordPolicy(),
		Argon2:   auth.DefaultArgon2Params,
		Lockout:  auth.DefaultLockoutPolicy(),
		Throttle: auth.DefaultThrottleConfig(),
		Remember: RememberConfig{
			Lifetime: auth.DefaultRememberLifetime,
			Store:    RememberStoreDisconnected,
		},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Observability: ObservabilityConfig{Addr: "127.0.0.1:9100"},
		Log:           LogConfig{Format: "json", Level: "info"},
		Audit:         AuditConfig{BufferSize: 1024},
		Database:      DatabaseConfig{MaxConns: 10, ConnectAttempts: 5, MaxConnIdleTime: 5 * time.Minute},
	}
}

// Validate checks rules the schema cannot express. Every problem found is
// reported, joined into one CONFIG_INVALID error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, oops.With("field", field).Errorf(field+" "+format, args...))
	}

	if c.Session.IdleTimeout <= 0 {
		fail("session.idle_timeout", "must be positive")
	}
	if c.Session.RotationInterval < 0 {
		fail("session.rotation_interval", "must not be negative")
	}
	if c.Session.AbsoluteTimeout < 0 {
		fail("session.absolute_timeout", "must not be negative")
	}
	if c.Session.AbsoluteTimeout > 0 && c.Session.AbsoluteTimeout < c.Session.IdleTimeout {
		fail("session.absolute_timeout", "must not be shorter than idle_timeout")
	}
	if c.Session.SweepInterval <= 0 {
		fail("session.sweep_interval", "must be positive")
	}
	if c.Password.MinLength < 0 {
		fail("password.min_length", "must not be negative")
	}
	if c.Lockout.Threshold > 0 && c.Lockout.Duration <= 0 {
		fail("lockout.duration", "must be positive when lockout is enabled")
	}
	if c.Throttle.Rate > 0 && c.Throttle.Burst < 1 {
		fail("throttle.burst", "must be at least 1 when throttling is enabled")
	}
	if c.Remember.Lifetime <= 0 {
		fail("remember.lifetime", "must be positive")
	}
	if !slices.Contains([]string{RememberStoreDisconnected, RememberStoreMemory}, c.Remember.Store) {
		fail("remember.store", "unknown store %q", c.Remember.Store)
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		fail("http.addr", "is required")
	}
	if c.HTTP.TLS.Enabled() && (c.HTTP.TLS.CertFile == "" || c.HTTP.TLS.KeyFile == "") {
		fail("http.tls", "needs both cert_file and key_file")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		fail("log.format", "must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Audit.BufferSize < 1 {
		fail("audit.buffer_size", "must be at least 1")
	}
	if _, err := access.NewStaticGate(c.Roles); err != nil {
		// Flattened so the role error's own code does not replace CONFIG_INVALID.
		errs = append(errs, oops.With("field", "roles").Errorf("roles: %s", err.Error()))
	}

	if len(errs) == 0 {
		return nil
	}
	return oops.Code("CONFIG_INVALID").Wrapf(errors.Join(errs...), "invalid configuration")
}
