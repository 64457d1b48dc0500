// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/elouarate/gallery-admin/internal/api"
	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/internal/config"
	"github.com/elouarate/gallery-admin/internal/notify"
	"github.com/elouarate/gallery-admin/internal/observability"
	"github.com/elouarate/gallery-admin/pkg/errutil"
)

func newServeCmd(deps *Deps) *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the credential HTTP API",
		Long: `Serve the login, token refresh, logout and password reset API.
Metrics and health probes are served on a separate listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, deps)
		},
	}

	cmd.Flags().String("listen", defaults.Server.Listen, "API listen address")
	cmd.Flags().String("metrics-listen", defaults.Server.MetricsListen, "metrics/health listen address (empty = disabled)")
	cmd.Flags().Bool("auto-migrate", defaults.Database.AutoMigrate, "apply pending migrations before serving")
	cmd.Flags().String("counter", defaults.Counter.Backend, "shared counter backend (redis or memory)")
	cmd.Flags().String("notify", defaults.Notify.Backend, "notification backend (smtp or log)")

	return cmd
}

// runServeWithDeps runs the service until ctx is cancelled, a termination
// signal arrives or a listener fails.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return err
		}
	}

	svc, err := buildServices(ctx, cfg, logger, deps)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if closeErr := svc.Close(closeCtx); closeErr != nil {
			errutil.LogError(logger, "release services", closeErr)
		}
	}()

	if cfg.Bootstrap.Enabled && cfg.Bootstrap.OnStartup {
		if _, _, err := svc.orchestrator.EnsureBootstrapAdmin(ctx); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(cfg.Server.Listen, api.NewHandler(svc.orchestrator, logger).Routes(), logger)
	apiErr, err := apiServer.Start()
	if err != nil {
		return err
	}

	var obsServer *observability.Server
	var obsErr <-chan error
	if cfg.Server.MetricsListen != "" {
		obsServer = observability.NewServer(cfg.Server.MetricsListen, svc.ready,
			auth.RegisterMetrics,
			notify.RegisterMetrics,
			api.RegisterMetrics,
		)
		obsErr, err = obsServer.Start()
		if err != nil {
			stopServers(cfg, logger, apiServer, nil)
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
	}

	metricsAddr := ""
	if obsServer != nil {
		metricsAddr = obsServer.Addr()
	}
	deps.Started(apiServer.Addr(), metricsAddr)
	logger.Info("gallery-admin ready",
		"api_addr", apiServer.Addr(),
		"metrics_addr", metricsAddr,
		"counter_backend", cfg.Counter.Backend,
		"notify_backend", cfg.Notify.Backend,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watchServer(gctx, "api", apiErr) })
	if obsErr != nil {
		g.Go(func() error { return watchServer(gctx, "observability", obsErr) })
	}
	if cfg.Reset.SweepInterval > 0 {
		g.Go(func() error {
			svc.resets.RunSweeper(gctx, cfg.Reset.SweepInterval)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	stopServers(cfg, logger, apiServer, obsServer)
	return err
}

// watchServer returns the server's failure, or nil once ctx is done.
func watchServer(ctx context.Context, name string, errCh <-chan error) error {
	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return oops.Code("SERVER_FAILED").With("server", name).Wrap(err)
	case <-ctx.Done():
		return nil
	}
}

type stoppable interface {
	Stop(ctx context.Context) error
}

func stopServers(cfg config.Config, logger *slog.Logger, apiServer stoppable, obsServer *observability.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Stop(ctx); err != nil {
			errutil.LogError(logger, "stop api server", err)
		}
	}
	if obsServer != nil {
		if err := obsServer.Stop(ctx); err != nil {
			errutil.LogError(logger, "stop observability server", err)
		}
	}
}

// autoMigrate applies pending migrations before the service starts.
func autoMigrate(databaseURL string, factory func(string) (Migrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			errutil.LogError(logger, "close migrator", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}
