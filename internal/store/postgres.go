// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

// Package store owns the PostgreSQL connection pool and schema migrations
// backing the credential store.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig tunes the connection pool and the startup ping.
type PoolConfig struct {
	MaxConns       int32
	ConnectRetries uint64
	RetryBase      time.Duration
}

// DefaultPoolConfig returns the pool settings used by the server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:       10,
		ConnectRetries: 5,
		RetryBase:      200 * time.Millisecond,
	}
}

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pool against dsn and waits until the database answers a
// ping, backing off exponentially between attempts.
func Connect(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse dsn").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitReady(ctx, pool, cfg); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitReady(ctx context.Context, p pinger, cfg PoolConfig) error {
	base := cfg.RetryBase
	if base <= 0 {
		base = DefaultPoolConfig().RetryBase
	}
	backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(base))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("retries", cfg.ConnectRetries).
			Wrap(err)
	}
	return nil
}

// ReadinessCheck returns a probe suitable for the observability server.
func ReadinessCheck(p pinger, timeout time.Duration) func() bool {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return p.Ping(ctx) == nil
	}
}
