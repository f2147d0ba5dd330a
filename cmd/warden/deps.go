// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/wardenauth/warden/internal/auth/postgres"
	"github.com/wardenauth/warden/internal/observability"
	"github.com/wardenauth/warden/internal/store"
	"github.com/wardenauth/warden/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseFactory opens the connection pool.
	// Default: store.Connect
	DatabaseFactory func(ctx context.Context, url string, opts store.ConnectOptions) (Database, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// HTTPServerFactory creates the API server. tlsConfig is nil for plain HTTP.
	// Default: web.NewServer
	HTTPServerFactory func(addr string, handler http.Handler, readTimeout time.Duration, tlsConfig *cryptotls.Config, logger *slog.Logger) HTTPServer
}

func (d *ServeDeps) withDefaults() {
	if d.DatabaseFactory == nil {
		d.DatabaseFactory = func(ctx context.Context, url string, opts store.ConnectOptions) (Database, error) {
			return store.Connect(ctx, url, opts)
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if d.HTTPServerFactory == nil {
		d.HTTPServerFactory = func(addr string, handler http.Handler, readTimeout time.Duration, tlsConfig *cryptotls.Config, logger *slog.Logger) HTTPServer {
			return web.NewServer(addr, handler, readTimeout, tlsConfig, logger)
		}
	}
}

// CommandDeps contains injectable dependencies for the one-shot database
// commands (migrate, seed).
type CommandDeps struct {
	// MigratorFactory creates a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// DatabaseFactory opens the connection pool.
	// Default: store.Connect
	DatabaseFactory func(ctx context.Context, url string, opts store.ConnectOptions) (Database, error)

	// Getenv reads the environment.
	// Default: os.Getenv
	Getenv func(string) string
}

func (d *CommandDeps) withDefaults() {
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if d.DatabaseFactory == nil {
		d.DatabaseFactory = func(ctx context.Context, url string, opts store.ConnectOptions) (Database, error) {
			return store.Connect(ctx, url, opts)
		}
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
}

// Database wraps the methods used from *pgxpool.Pool.
type Database interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods serve uses from store.Migrator.
type AutoMigrator interface {
	Up() error
	Close() error
}

// Migrator wraps the methods the migrate command uses from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// HTTPServer wraps the methods used from web.Server.
type HTTPServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
