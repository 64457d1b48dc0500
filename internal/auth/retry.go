// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"
)

// DefaultReadRetryBase is the initial backoff between read attempts.
const DefaultReadRetryBase = 50 * time.Millisecond

// RetryingCredentialStore retries transient read failures of the wrapped
// store with jittered exponential backoff. Writes pass through unchanged
// so a retry never duplicates a side effect.
type RetryingCredentialStore struct {
	CredentialStore
	maxRetries uint64
	base       time.Duration
}

// NewRetryingCredentialStore wraps next. maxRetries is the number of extra
// attempts after the first; base is the initial backoff.
func NewRetryingCredentialStore(next CredentialStore, maxRetries uint64, base time.Duration) *RetryingCredentialStore {
	if base <= 0 {
		base = DefaultReadRetryBase
	}
	return &RetryingCredentialStore{CredentialStore: next, maxRetries: maxRetries, base: base}
}

func (s *RetryingCredentialStore) read(ctx context.Context, fn func(context.Context) error) error {
	b := retry.NewExponential(s.base)
	b = retry.WithMaxRetries(s.maxRetries, b)
	b = retry.WithJitterPercent(20, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
}

// FindByEmail implements CredentialStore.
func (s *RetryingCredentialStore) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	var p *Principal
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.CredentialStore.FindByEmail(ctx, email)
		return err
	})
	return p, err
}

// FindByID implements CredentialStore.
func (s *RetryingCredentialStore) FindByID(ctx context.Context, id ulid.ULID) (*Principal, error) {
	var p *Principal
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.CredentialStore.FindByID(ctx, id)
		return err
	})
	return p, err
}

// CountActive implements CredentialStore.
func (s *RetryingCredentialStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.CredentialStore.CountActive(ctx)
		return err
	})
	return n, err
}
