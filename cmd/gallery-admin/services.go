// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/internal/config"
	"github.com/elouarate/gallery-admin/internal/counter"
	"github.com/elouarate/gallery-admin/internal/notify"
	"github.com/elouarate/gallery-admin/internal/observability"
	"github.com/elouarate/gallery-admin/pkg/errutil"
)

// services is the fully wired credential core.
type services struct {
	orchestrator *auth.Orchestrator
	resets       *auth.ResetTokenManager
	ready        observability.ReadinessChecker
	closers      []func(context.Context) error
}

// Close releases resources in reverse order of acquisition.
func (s *services) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return oops.Code("SHUTDOWN_FAILED").Join(errs...)
	}
	return nil
}

// counterBackend is a counter store with its readiness probe.
type counterBackend struct {
	store auth.SharedCounterStore
	ready observability.ReadinessChecker
	close func() error
}

func newCounterBackend(cfg config.CounterConfig, deps *Deps) counterBackend {
	if cfg.Backend == config.CounterMemory {
		return counterBackend{
			store: counter.NewMemoryStore(),
			ready: func() bool { return true },
			close: func() error { return nil },
		}
	}

	client := deps.RedisFactory(cfg)
	redisStore := counter.NewRedisStore(client, cfg.KeyPrefix)
	return counterBackend{
		store: redisStore,
		ready: func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
			defer cancel()
			return redisStore.Ping(ctx) == nil
		},
		close: client.Close,
	}
}

func newNotificationSink(cfg config.Config, logger *slog.Logger, deps *Deps) (auth.NotificationSink, error) {
	if cfg.Notify.Backend == config.NotifySMTP {
		sink, err := deps.EmailSinkFactory(cfg.SMTPConfig(), logger)
		if err != nil {
			return nil, oops.With("operation", "create email sink").Wrap(err)
		}
		return sink, nil
	}
	return notify.NewLogSink(logger), nil
}

// buildServices connects the stores and composes the orchestrator.
func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger, deps *Deps) (*services, error) {
	svc := &services{}
	built := false
	defer func() {
		if !built {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if closeErr := svc.Close(closeCtx); closeErr != nil {
				errutil.LogError(logger, "release partially built services", closeErr)
			}
		}
	}()

	stores, err := deps.StoreFactory(ctx, cfg)
	if err != nil {
		return nil, oops.With("operation", "connect stores").Wrap(err)
	}
	svc.closers = append(svc.closers, func(context.Context) error {
		if stores.Close != nil {
			stores.Close()
		}
		return nil
	})

	counters := newCounterBackend(cfg.Counter, deps)
	svc.closers = append(svc.closers, func(context.Context) error { return counters.close() })

	sink, err := newNotificationSink(cfg, logger, deps)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewAsync(sink, cfg.AsyncConfig(), logger)
	svc.closers = append(svc.closers, notifier.Close)

	ready := []observability.ReadinessChecker{counters.ready}
	if stores.Ready != nil {
		ready = append(ready, stores.Ready)
	}
	svc.ready = observability.AllReady(ready...)

	policy := auth.NewPasswordPolicy()
	hasher := auth.NewBoundedHasher(auth.NewArgon2idHasher(), cfg.Hashing.MaxConcurrent)

	tokens, err := auth.NewTokenService(cfg.TokenConfig(), counters.store, auth.WithTokenLogger(logger))
	if err != nil {
		return nil, err
	}
	attempts, err := auth.NewAttemptGuard(counters.store, cfg.AttemptConfig(), time.Now, logger)
	if err != nil {
		return nil, err
	}
	svc.resets, err = auth.NewResetTokenManager(auth.ResetDeps{
		Credentials: stores.Credentials,
		Tokens:      stores.Resets,
		Counters:    counters.store,
		Policy:      policy,
		Hasher:      hasher,
		Sessions:    tokens,
		Logger:      logger,
	}, cfg.ResetConfig())
	if err != nil {
		return nil, err
	}

	svc.orchestrator, err = auth.NewOrchestrator(auth.OrchestratorDeps{
		Credentials: stores.Credentials,
		Hasher:      hasher,
		Policy:      policy,
		Tokens:      tokens,
		Attempts:    attempts,
		Resets:      svc.resets,
		Notifier:    notifier,
		Bootstrap:   cfg.BootstrapConfig(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	built = true
	return svc, nil
}
