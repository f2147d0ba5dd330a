// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardenauth/warden/internal/access"
	"github.com/wardenauth/warden/internal/audit"
	"github.com/wardenauth/warden/internal/auth"
	"github.com/wardenauth/warden/internal/auth/memory"
	"github.com/wardenauth/warden/internal/auth/postgres"
	"github.com/wardenauth/warden/internal/config"
	"github.com/wardenauth/warden/internal/logging"
	"github.com/wardenauth/warden/internal/observability"
	"github.com/wardenauth/warden/internal/store"
	"github.com/wardenauth/warden/internal/tls"
	"github.com/wardenauth/warden/internal/web"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API server",
		Long: `Start the HTTP API that handles login, logout, session checks,
password changes and permission queries. The database URL is read from
the DATABASE_URL environment variable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: configFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// components is the assembled authentication stack.
type components struct {
	service   *auth.Service
	sessions  *auth.SessionManager
	publisher *audit.Publisher
	activity  audit.Reader
}

// buildComponents wires the auth service over db.
func buildComponents(cfg *config.Config, db Database, metrics *observability.Metrics, logger *slog.Logger) (*components, error) {
	gate, err := access.NewStaticGate(cfg.Roles)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "compile roles").Wrap(err)
	}

	writers := audit.MultiWriter{audit.LogWriter{Logger: logger}}
	var activity audit.Reader
	if cfg.Audit.Postgres {
		pw := audit.NewPostgresWriter(db)
		writers = append(writers, pw)
		activity = pw
	} else {
		mw := audit.NewMemoryWriter(0)
		writers = append(writers, mw)
		activity = mw
	}
	publisher := audit.NewPublisher(writers,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithLogger(logger),
		audit.WithDropCounter(metrics.AuditEventDropped),
	)

	sessions, err := auth.NewSessionManager(postgres.NewSessionRepository(db), cfg.Session,
		auth.WithSessionLogger(logger),
		auth.WithSessionMetrics(metrics),
	)
	if err != nil {
		closePublisher(publisher, logger)
		return nil, err
	}

	svc, err := auth.NewService(
		postgres.NewUserRepository(db),
		sessions,
		auth.NewArgon2idHasherWithParams(cfg.Argon2),
		cfg.Password,
		gate,
		auth.WithLogger(logger),
		auth.WithAuditSink(publisher),
		auth.WithMetrics(metrics),
		auth.WithRememberTokens(rememberStore(cfg.Remember.Store)),
		auth.WithRememberLifetime(cfg.Remember.Lifetime),
		auth.WithLockout(cfg.Lockout),
		auth.WithLoginThrottle(auth.NewLoginThrottle(cfg.Throttle)),
	)
	if err != nil {
		closePublisher(publisher, logger)
		return nil, err
	}

	return &components{
		service:   svc,
		sessions:  sessions,
		publisher: publisher,
		activity:  activity,
	}, nil
}

// rememberStore picks the remember-me token storage. Tokens in the memory
// store do not survive a restart.
func rememberStore(kind string) auth.RememberTokenRepository {
	if kind == config.RememberStoreMemory {
		return memory.NewRememberTokens()
	}
	return auth.DisconnectedRememberTokens{}
}

func closePublisher(p *audit.Publisher, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		logger.Warn("audit events lost at shutdown", "error", err)
	}
}

// runServeWithDeps runs the server with injectable dependencies.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.withDefaults()

	logger := logging.SetDefault("warden", version, cfg.Log.Format,
		logging.WithLevel(logging.ParseLevel(cfg.Log.Level)))

	logger.Info("starting warden",
		"http_addr", cfg.HTTP.Addr,
		"observability_addr", cfg.Observability.Addr,
		"remember_store", cfg.Remember.Store,
		"tls", cfg.HTTP.TLS.Enabled(),
	)

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.DatabaseURLEnv)
	}

	var tlsConfig *cryptotls.Config
	if cfg.HTTP.TLS.Enabled() {
		var err error
		tlsConfig, err = tls.LoadServerTLS(cfg.HTTP.TLS.CertFile, cfg.HTTP.TLS.KeyFile, time.Now())
		if err != nil {
			return err
		}
	}

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, store.ConnectOptions{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		Attempts:        cfg.Database.ConnectAttempts,
		Logger:          logger,
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	logger.Info("connected to database")

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var obsServer ObservabilityServer
	if cfg.Observability.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Observability.Addr, func(ctx context.Context) bool {
			return db.Ping(ctx) == nil
		}, logger)
		if m := obsServer.Metrics(); m != nil {
			metrics = m
		}
	}

	comps, err := buildComponents(cfg, db, metrics, logger)
	if err != nil {
		return err
	}
	defer closePublisher(comps.publisher, logger)

	var wg sync.WaitGroup
	defer wg.Wait()
	wg.Go(func() {
		comps.sessions.RunSweeper(ctx, cfg.Session.SweepInterval)
	})
	// Runs before wg.Wait.
	defer cancel(nil)

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	}

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("operation", "start observability server").Wrap(err)
		}
		defer func() {
			sctx, scancel := shutdownCtx()
			defer scancel()
			if err := obsServer.Stop(sctx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	handler := web.NewHandler(comps.service, web.Options{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SecureCookies: cfg.HTTP.SecureCookies,
		Logger:        logger,
		Metrics:       metrics,
		Activity:      comps.activity,
	})
	httpServer := deps.HTTPServerFactory(cfg.HTTP.Addr, handler.Routes(), cfg.HTTP.ReadTimeout, tlsConfig, logger)
	httpErrChan, err := httpServer.Start()
	if err != nil {
		return oops.Code("HTTP_START_FAILED").With("operation", "start http server").Wrap(err)
	}
	defer func() {
		sctx, scancel := shutdownCtx()
		defer scancel()
		if err := httpServer.Stop(sctx); err != nil {
			logger.Warn("error stopping http server", "error", err)
		}
	}()
	go monitorServerErrors(ctx, cancel, httpErrChan, "http")

	cmd.Println("warden started")
	logger.Info("warden ready", "http_addr", httpServer.Addr())

	<-ctx.Done()
	logger.Info("shutting down...")

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// monitorServerErrors cancels ctx with the server's error if it fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelCauseFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel(oops.Code("SERVER_FAILED").With("server", serverName).Wrap(err))
		}
	case <-ctx.Done():
	}
}

// autoMigrate applies pending migrations before the server starts.
func autoMigrate(factory func(string) (AutoMigrator, error), url string, logger *slog.Logger) error {
	logger.Info("running database migrations")

	m, err := factory(url)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := m.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations complete")
	return nil
}
