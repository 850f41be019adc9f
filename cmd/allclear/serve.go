// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/allcleardev/allclear-service/internal/auth"
	authpg "github.com/allcleardev/allclear-service/internal/auth/postgres"
	"github.com/allcleardev/allclear-service/internal/config"
	"github.com/allcleardev/allclear-service/internal/kv"
	"github.com/allcleardev/allclear-service/internal/logging"
	"github.com/allcleardev/allclear-service/internal/observability"
	"github.com/allcleardev/allclear-service/internal/otp"
	"github.com/allcleardev/allclear-service/internal/registration"
	"github.com/allcleardev/allclear-service/internal/session"
	"github.com/allcleardev/allclear-service/pkg/errutil"
)

const readinessTimeout = 2 * time.Second

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// KVFactory creates the backing store. Default: Redis, or the in-memory
	// store in dev mode.
	KVFactory func(ctx context.Context, cfg *config.Config) (kv.Store, func(), error)

	// DirectoryFactory creates the account directory from a database URL.
	// Default: pgxpool + the PostgreSQL directory.
	DirectoryFactory func(ctx context.Context, url string) (auth.Directory, func(), error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) *observability.Server
}

// App holds the wired service graph.
type App struct {
	Sessions     *session.Store
	Registration *registration.Service
	PhoneTokens  *auth.PhoneTokenService

	// Auth is nil when no account directory is configured; credential
	// login is then disabled.
	Auth *auth.Service
}

// SetMetrics wires the observability counters into the service graph.
func (a *App) SetMetrics(m *observability.Metrics) {
	if m == nil {
		return
	}
	a.Sessions.SetMetrics(m)
	a.Registration.SetMetrics(m)
	a.PhoneTokens.SetMetrics(m)
	if a.Auth != nil {
		a.Auth.SetMetrics(m)
	}
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AllClear service",
		Long: `Start the AllClear service: session store, registration and login
code flows, credential verification, and observability endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configFile, cmd.Flags(), nil)
		},
	}

	// Flag defaults mirror config.Default so unchanged flags agree with the
	// defaulted config.
	defaults := config.Default()
	cmd.Flags().String("redis.addr", defaults.Redis.Addr, "redis address (host:port)")
	cmd.Flags().String("postgres.url", "", "account directory database URL")
	cmd.Flags().String("metrics.addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log.format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log.level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().Bool("dev", false, "run with the in-memory backing store")

	return cmd
}

// runServe wires the service graph and blocks until a shutdown signal.
// If deps is nil, default implementations are used.
func runServe(ctx context.Context, cfgPath string, flags *pflag.FlagSet, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.KVFactory == nil {
		deps.KVFactory = defaultKVFactory
	}
	if deps.DirectoryFactory == nil {
		deps.DirectoryFactory = defaultDirectoryFactory
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = observability.NewServer
	}

	cfg, err := config.Load(cfgPath, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.SetDefault("allclear", version, cfg.Log.Format, cfg.Log.Level)
	logger := slog.Default()

	logger.Info("starting allclear service",
		"dev", cfg.Dev,
		"metrics_addr", cfg.Metrics.Addr,
	)

	kvs, closeKV, err := deps.KVFactory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to backing store: %w", err)
	}
	defer closeKV()

	app, closeApp, err := buildApp(ctx, cfg, kvs, logger, deps)
	if err != nil {
		return err
	}
	defer closeApp()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func() bool {
			readyCtx, readyCancel := context.WithTimeout(context.Background(), readinessTimeout)
			defer readyCancel()
			return app.Sessions.Ready(readyCtx)
		})
		app.SetMetrics(obsServer.Metrics())
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("allclear service ready")

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", ctx.Err())
	}

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(logger, "failed to stop observability server", err)
		}
	}

	logger.Info("allclear service stopped")
	return nil
}

// buildApp constructs the service graph on top of the backing store.
func buildApp(ctx context.Context, cfg *config.Config, kvs kv.Store, logger *slog.Logger, deps *ServeDeps) (*App, func(), error) {
	sessions, err := session.NewStore(kvs, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session store: %w", err)
	}

	regTickets, err := otp.NewTicketStore(kvs, registration.KeyPrefix, cfg.Tickets.RegistrationTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create registration ticket store: %w", err)
	}
	regService, err := registration.NewService(regTickets, sessions, registration.LogSender{Logger: logger}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create registration service: %w", err)
	}

	tokenTickets, err := otp.NewTicketStore(kvs, auth.PhoneTokenKeyPrefix, cfg.Tickets.PhoneTokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create phone token store: %w", err)
	}
	phoneTokens, err := auth.NewPhoneTokenService(tokenTickets, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create phone token service: %w", err)
	}

	app := &App{
		Sessions:     sessions,
		Registration: regService,
		PhoneTokens:  phoneTokens,
	}

	closeDir := func() {}
	if cfg.Postgres.URL != "" {
		directory, closer, err := deps.DirectoryFactory(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to account directory: %w", err)
		}
		closeDir = closer

		authService, err := auth.NewService(directory, auth.NewArgon2Hasher(), sessions, logger)
		if err != nil {
			closeDir()
			return nil, nil, fmt.Errorf("failed to create auth service: %w", err)
		}
		app.Auth = authService
	} else {
		logger.Warn("no account directory configured, credential login disabled")
	}

	return app, closeDir, nil
}

func defaultKVFactory(ctx context.Context, cfg *config.Config) (kv.Store, func(), error) {
	if cfg.Dev {
		slog.Info("using in-memory backing store")
		return kv.NewMemoryStore(), func() {}, nil
	}

	store, err := kv.NewRedisStore(ctx, kv.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}, nil
}

func defaultDirectoryFactory(ctx context.Context, url string) (auth.Directory, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return authpg.NewDirectory(pool), pool.Close, nil
}

// monitorServerErrors watches a server error channel and cancels the run
// context if an error arrives.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errChan <-chan error, name string) {
	select {
	case err, ok := <-errChan:
		if ok && err != nil {
			errutil.LogError(slog.Default(), name+" server failed", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
