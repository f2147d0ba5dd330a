// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package config

import (
	"github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/pflag"
)

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"http-addr":            "http.addr",
	"secure-cookies":       "http.secure_cookies",
	"observability-addr":   "observability.addr",
	"log-format":           "log.format",
	"log-level":            "log.level",
	"session-idle-timeout": "session.idle_timeout",
	"remember-store":       "remember.store",
	"audit-postgres":       "audit.postgres",
	"auto-migrate":         "database.auto_migrate",
}

// RegisterFlags defines the overridable settings on fs, with the built-in
// defaults shown in help output.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("http-addr", d.HTTP.Addr, "HTTP API listen address")
	fs.Bool("secure-cookies", d.HTTP.SecureCookies, "always set the Secure cookie attribute")
	fs.String("observability-addr", d.Observability.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.Duration("session-idle-timeout", d.Session.IdleTimeout, "destroy sessions idle for longer than this")
	fs.String("remember-store", d.Remember.Store, "remember-me token storage (disconnected or memory)")
	fs.Bool("audit-postgres", d.Audit.Postgres, "also write activity records to Postgres")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
}

// flagKeyFunc maps flags the user actually set to their keys. Unset and
// unknown flags are skipped so flag defaults never mask file values.
func flagKeyFunc(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}
