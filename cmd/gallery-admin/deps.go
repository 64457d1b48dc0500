// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/internal/auth/postgres"
	"github.com/elouarate/gallery-admin/internal/config"
	"github.com/elouarate/gallery-admin/internal/notify"
	"github.com/elouarate/gallery-admin/internal/observability"
	"github.com/elouarate/gallery-admin/internal/store"
)

// readinessTimeout bounds a single readiness probe.
const readinessTimeout = 2 * time.Second

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// MigratorFactory opens a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// StoreFactory connects the credential and reset token stores.
	// Default: PostgreSQL repositories on a pgx pool
	StoreFactory func(ctx context.Context, cfg config.Config) (*Stores, error)

	// RedisFactory creates the client behind the redis counter backend.
	// Default: redis.NewClient
	RedisFactory func(cfg config.CounterConfig) redis.UniversalClient

	// EmailSinkFactory creates the SMTP notification sink.
	// Default: notify.NewEmailSink
	EmailSinkFactory func(cfg notify.SMTPConfig, logger *slog.Logger) (auth.NotificationSink, error)

	// Started is called once the servers are listening.
	Started func(apiAddr, metricsAddr string)
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// Stores are the persistence collaborators of the orchestrator.
type Stores struct {
	Credentials auth.CredentialStore
	Resets      auth.ResetTokenStore
	Ready       observability.ReadinessChecker
	Close       func()
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.StoreFactory == nil {
		out.StoreFactory = connectPostgres
	}
	if out.RedisFactory == nil {
		out.RedisFactory = func(cfg config.CounterConfig) redis.UniversalClient {
			return redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
		}
	}
	if out.EmailSinkFactory == nil {
		out.EmailSinkFactory = func(cfg notify.SMTPConfig, logger *slog.Logger) (auth.NotificationSink, error) {
			return notify.NewEmailSink(cfg, logger)
		}
	}
	if out.Started == nil {
		out.Started = func(string, string) {}
	}
	return &out
}

// connectPostgres opens the pool and wraps the principal repository with
// read retries.
func connectPostgres(ctx context.Context, cfg config.Config) (*Stores, error) {
	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.PoolConfig())
	if err != nil {
		return nil, err
	}
	principals := postgres.NewPrincipalRepository(pool)
	return &Stores{
		Credentials: auth.NewRetryingCredentialStore(principals, cfg.Database.ReadRetries, cfg.Database.RetryBase),
		Resets:      postgres.NewResetTokenRepository(pool),
		Ready:       store.ReadinessCheck(pool, readinessTimeout),
		Close:       pool.Close,
	}, nil
}
