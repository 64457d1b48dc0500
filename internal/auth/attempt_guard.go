// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// Attempt limiting defaults.
const (
	// DefaultMaxAttempts is the number of failures that triggers a lockout.
	DefaultMaxAttempts = 5

	// DefaultFailureWindow bounds how long failures are remembered.
	DefaultFailureWindow = 15 * time.Minute

	// DefaultLockoutDuration is the time an identifier is locked out.
	DefaultLockoutDuration = 15 * time.Minute
)

// AttemptConfig configures an AttemptGuard.
type AttemptConfig struct {
	MaxAttempts     int
	FailureWindow   time.Duration
	LockoutDuration time.Duration
}

// DefaultAttemptConfig returns the default lockout policy.
func DefaultAttemptConfig() AttemptConfig {
	return AttemptConfig{
		MaxAttempts:     DefaultMaxAttempts,
		FailureWindow:   DefaultFailureWindow,
		LockoutDuration: DefaultLockoutDuration,
	}
}

// AttemptGuard tracks failed logins per identifier in the shared counter
// store and locks the identifier out after too many failures.
//
// The failure count and the lock are written in one atomic store operation.
// CheckAllowed also denies while the failure count is at the threshold, so a
// missing lock entry never reopens an identifier early. Store errors are
// returned to the caller and must be treated as a denial.
type AttemptGuard struct {
	counters SharedCounterStore
	cfg      AttemptConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewAttemptGuard creates an AttemptGuard. Zero fields in cfg take defaults.
func NewAttemptGuard(counters SharedCounterStore, cfg AttemptConfig, now func() time.Time, logger *slog.Logger) (*AttemptGuard, error) {
	if counters == nil {
		return nil, oops.Code("ATTEMPT_GUARD_INVALID").Errorf("counter store is required")
	}
	def := DefaultAttemptConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = def.LockoutDuration
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptGuard{counters: counters, cfg: cfg, now: now, logger: logger}, nil
}

// CheckAllowed fails with AccountLocked while a lock is in force or the
// failure count within the current window has reached the threshold.
func (g *AttemptGuard) CheckAllowed(ctx context.Context, identifier string) error {
	failuresKey, lockKey := attemptKeys(identifier)

	lockedUntilMs, locked, err := g.counters.Get(ctx, lockKey)
	if err != nil {
		return oops.Code("ATTEMPT_CHECK_FAILED").With("identifier", identifier).Wrap(err)
	}
	if locked {
		if retryAfter := time.UnixMilli(lockedUntilMs).Sub(g.now()); retryAfter > 0 {
			return accountLockedError(retryAfter)
		}
	}

	failures, found, err := g.counters.Get(ctx, failuresKey)
	if err != nil {
		return oops.Code("ATTEMPT_CHECK_FAILED").With("identifier", identifier).Wrap(err)
	}
	if !found || failures < int64(g.cfg.MaxAttempts) {
		return nil
	}

	retryAfter, err := g.counters.TTL(ctx, failuresKey)
	if err != nil {
		return oops.Code("ATTEMPT_CHECK_FAILED").With("identifier", identifier).Wrap(err)
	}
	if retryAfter <= 0 {
		return nil
	}
	g.logger.WarnContext(ctx, "failure threshold reached without a lock entry",
		"identifier", identifier,
		"failures", failures,
		"retry_after", retryAfter,
	)
	return accountLockedError(retryAfter)
}

// RecordSuccess clears the failure counter and any lock.
func (g *AttemptGuard) RecordSuccess(ctx context.Context, identifier string) error {
	failuresKey, lockKey := attemptKeys(identifier)
	if err := g.counters.Delete(ctx, failuresKey, lockKey); err != nil {
		return oops.Code("ATTEMPT_RESET_FAILED").With("identifier", identifier).Wrap(err)
	}
	return nil
}

// RecordFailure counts a failed attempt and returns the new failure count.
// The attempt that reaches the threshold, and every later one, writes the
// lock in the same store operation as the increment.
func (g *AttemptGuard) RecordFailure(ctx context.Context, identifier string) (int64, error) {
	failuresKey, lockKey := attemptKeys(identifier)
	lockedUntil := g.now().Add(g.cfg.LockoutDuration)

	count, err := g.counters.IncrementWithMark(ctx, failuresKey, g.cfg.FailureWindow, ThresholdMark{
		Threshold: int64(g.cfg.MaxAttempts),
		Key:       lockKey,
		Value:     lockedUntil.UnixMilli(),
		TTL:       g.cfg.LockoutDuration,
	})
	if err != nil {
		return 0, oops.Code("ATTEMPT_RECORD_FAILED").With("identifier", identifier).Wrap(err)
	}
	if count == int64(g.cfg.MaxAttempts) {
		Lockouts.Inc()
		g.logger.WarnContext(ctx, "identifier locked out after repeated failures",
			"identifier", identifier,
			"failures", count,
			"locked_until", lockedUntil,
		)
	}
	return count, nil
}
