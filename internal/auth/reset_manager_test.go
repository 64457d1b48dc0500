// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/internal/auth/mocks"
	"github.com/elouarate/gallery-admin/internal/counter"
	"github.com/elouarate/gallery-admin/pkg/errutil"
)

const (
	curatorEmail    = "curator@elouarate.com"
	curatorPassword = "Sunset#Gallery7"
	newPassword     = "Moonrise#Atelier8"
)

type failingRevoker struct{ err error }

func (f failingRevoker) RevokeAll(context.Context, ulid.ULID) error { return f.err }

func TestNewResetTokenManager_NilDependencies(t *testing.T) {
	full := func() auth.ResetDeps {
		return auth.ResetDeps{
			Credentials: mocks.NewMockCredentialStore(t),
			Tokens:      mocks.NewMockResetTokenStore(t),
			Counters:    mocks.NewMockSharedCounterStore(t),
			Policy:      auth.NewPasswordPolicy(),
			Hasher:      mocks.NewMockPasswordHasher(t),
			Sessions:    failingRevoker{},
		}
	}

	tests := []struct {
		name        string
		mutate      func(*auth.ResetDeps)
		expectError string
	}{
		{name: "credential store", mutate: func(d *auth.ResetDeps) { d.Credentials = nil }, expectError: "credential store is required"},
		{name: "token store", mutate: func(d *auth.ResetDeps) { d.Tokens = nil }, expectError: "reset token store is required"},
		{name: "counter store", mutate: func(d *auth.ResetDeps) { d.Counters = nil }, expectError: "counter store is required"},
		{name: "policy", mutate: func(d *auth.ResetDeps) { d.Policy = nil }, expectError: "password policy is required"},
		{name: "hasher", mutate: func(d *auth.ResetDeps) { d.Hasher = nil }, expectError: "password hasher is required"},
		{name: "revoker", mutate: func(d *auth.ResetDeps) { d.Sessions = nil }, expectError: "session revoker is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full()
			tt.mutate(&deps)
			mgr, err := auth.NewResetTokenManager(deps, auth.DefaultResetConfig())
			require.Error(t, err)
			assert.Nil(t, mgr)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestResetTokenManager_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email yields nothing", func(t *testing.T) {
		h := newHarness(t)
		issue, err := h.resetMgr.Initiate(ctx, "nobody@elouarate.com")
		require.NoError(t, err)
		assert.Nil(t, issue)
		assert.Zero(t, h.resets.len())
	})

	t.Run("inactive principal yields nothing", func(t *testing.T) {
		h := newHarness(t)
		p := h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
		p.IsActive = false
		h.principals.put(p)

		issue, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)
		assert.Nil(t, issue)
		assert.Zero(t, h.resets.len())
	})

	t.Run("deactivation drops a pending token", func(t *testing.T) {
		h := newHarness(t)
		p := h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
		pending, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)
		require.Equal(t, 1, h.resets.len())

		p.IsActive = false
		h.principals.put(p)

		issue, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)
		assert.Nil(t, issue)
		assert.Zero(t, h.resets.len())
		_, err = h.resetMgr.Validate(ctx, pending.RawToken)
		assert.ErrorIs(t, err, auth.ErrResetTokenInvalid)
	})

	t.Run("failed cleanup for an inactive principal is logged", func(t *testing.T) {
		p := &auth.Principal{ID: ulid.Make(), Email: curatorEmail, Role: auth.RoleUser}
		creds := mocks.NewMockCredentialStore(t)
		creds.On("FindByEmail", ctx, curatorEmail).Return(p, nil)
		tokens := mocks.NewMockResetTokenStore(t)
		tokens.On("DeleteByPrincipal", ctx, p.ID).Return(errors.New("connection refused"))
		logs := &bytes.Buffer{}
		mgr, err := auth.NewResetTokenManager(auth.ResetDeps{
			Credentials: creds,
			Tokens:      tokens,
			Counters:    mocks.NewMockSharedCounterStore(t),
			Policy:      auth.NewPasswordPolicy(),
			Hasher:      newTestHasher(),
			Sessions:    failingRevoker{},
			Logger:      slog.New(slog.NewJSONHandler(logs, nil)),
		}, auth.DefaultResetConfig())
		require.NoError(t, err)

		issue, err := mgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err, "the caller learns nothing about the account")
		assert.Nil(t, issue)
		assert.Contains(t, logs.String(), "drop reset token of inactive principal")
	})

	t.Run("issues a token for the normalized email", func(t *testing.T) {
		h := newHarness(t)
		p := h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)

		issue, err := h.resetMgr.Initiate(ctx, "  Curator@Elouarate.COM ")
		require.NoError(t, err)
		require.NotNil(t, issue)
		assert.Equal(t, p.ID, issue.Principal.ID)
		assert.Len(t, issue.RawToken, auth.ResetTokenBytes*2)
		assert.Equal(t, h.clock.Now().Add(auth.ResetTokenExpiry), issue.ExpiresAt)

		stored, err := h.resets.FindByHash(ctx, auth.HashResetToken(issue.RawToken))
		require.NoError(t, err)
		assert.Equal(t, p.ID, stored.PrincipalID)
		assert.NotEqual(t, issue.RawToken, stored.TokenHash)
	})

	t.Run("a new request supersedes the previous token", func(t *testing.T) {
		h := newHarness(t)
		h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)

		first, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)
		second, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)

		_, err = h.resetMgr.Validate(ctx, first.RawToken)
		assert.ErrorIs(t, err, auth.ErrResetTokenInvalid)
		_, err = h.resetMgr.Validate(ctx, second.RawToken)
		assert.NoError(t, err)
		assert.Equal(t, 1, h.resets.len())
	})

	t.Run("requests beyond the hourly cap are rate limited", func(t *testing.T) {
		h := newHarness(t)
		h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)

		for i := range auth.DefaultMaxResetRequests {
			_, err := h.resetMgr.Initiate(ctx, curatorEmail)
			require.NoError(t, err, "request %d", i+1)
		}

		h.clock.Advance(20 * time.Minute)
		issue, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.ErrorIs(t, err, auth.ErrRateLimited)
		assert.Nil(t, issue)
		authErr, ok := auth.AsError(err)
		require.True(t, ok)
		assert.Equal(t, 40*time.Minute, authErr.RetryAfter)

		h.clock.Advance(40 * time.Minute)
		_, err = h.resetMgr.Initiate(ctx, curatorEmail)
		assert.NoError(t, err, "the window resets after an hour")
	})

	t.Run("the cap slides instead of resetting on the hour", func(t *testing.T) {
		h := newHarness(t)
		h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)

		_, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)
		h.clock.Advance(50 * time.Minute)
		for range auth.DefaultMaxResetRequests - 1 {
			_, err := h.resetMgr.Initiate(ctx, curatorEmail)
			require.NoError(t, err)
		}

		// Only the first request has left the window.
		h.clock.Advance(11 * time.Minute)
		_, err = h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)

		_, err = h.resetMgr.Initiate(ctx, curatorEmail)
		require.ErrorIs(t, err, auth.ErrRateLimited)
		authErr, _ := auth.AsError(err)
		assert.Equal(t, 49*time.Minute, authErr.RetryAfter)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		creds := mocks.NewMockCredentialStore(t)
		creds.On("FindByEmail", ctx, curatorEmail).Return(nil, errors.New("connection refused"))
		mgr, err := auth.NewResetTokenManager(auth.ResetDeps{
			Credentials: creds,
			Tokens:      mocks.NewMockResetTokenStore(t),
			Counters:    counter.NewMemoryStore(),
			Policy:      auth.NewPasswordPolicy(),
			Hasher:      newTestHasher(),
			Sessions:    failingRevoker{},
		}, auth.DefaultResetConfig())
		require.NoError(t, err)

		_, err = mgr.Initiate(ctx, curatorEmail)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
		errutil.AssertErrorCode(t, err, "RESET_REQUEST_FAILED")
	})
}

func TestResetTokenManager_Validate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)

	issue, err := h.resetMgr.Initiate(ctx, curatorEmail)
	require.NoError(t, err)

	for _, raw := range []string{"", "deadbeef", issue.RawToken + "0"} {
		_, err := h.resetMgr.Validate(ctx, raw)
		assert.ErrorIs(t, err, auth.ErrResetTokenInvalid, "token %q", raw)
	}

	tok, err := h.resetMgr.Validate(ctx, issue.RawToken)
	require.NoError(t, err)
	assert.Equal(t, issue.Principal.ID, tok.PrincipalID)

	h.clock.Advance(auth.ResetTokenExpiry)
	_, err = h.resetMgr.Validate(ctx, issue.RawToken)
	assert.ErrorIs(t, err, auth.ErrResetTokenInvalid)
	errutil.AssertErrorContext(t, err, "reason", "expired")
}

func TestResetTokenManager_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("sets the password and revokes sessions", func(t *testing.T) {
		h := newHarness(t)
		p := h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
		session, err := h.tokens.Issue(ctx, p)
		require.NoError(t, err)

		issue, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)

		got, err := h.resetMgr.Complete(ctx, issue.RawToken, newPassword)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p.ID, got.ID)

		ok, err := h.hasher.Verify(ctx, newPassword, h.principals.get(p.ID).PasswordHash)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = h.tokens.Verify(ctx, session.AccessToken, auth.TokenTypeAccess)
		assert.ErrorIs(t, err, auth.ErrTokenRevoked)
		_, err = h.tokens.Verify(ctx, session.RefreshToken, auth.TokenTypeRefresh)
		assert.ErrorIs(t, err, auth.ErrTokenRevoked)

		_, err = h.resetMgr.Complete(ctx, issue.RawToken, "Another#Pass9")
		assert.ErrorIs(t, err, auth.ErrResetTokenInvalid, "tokens are single use")
	})

	t.Run("weak password leaves the token usable", func(t *testing.T) {
		h := newHarness(t)
		h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
		issue, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)

		_, err = h.resetMgr.Complete(ctx, issue.RawToken, "password123")
		require.ErrorIs(t, err, auth.ErrWeakPassword)
		authErr, _ := auth.AsError(err)
		assert.Contains(t, authErr.Violations, auth.ViolationCommonPassword)

		_, err = h.resetMgr.Validate(ctx, issue.RawToken)
		assert.NoError(t, err)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		h := newHarness(t)
		p := h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
		issue, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)

		h.clock.Advance(auth.ResetTokenExpiry + time.Second)
		_, err = h.resetMgr.Complete(ctx, issue.RawToken, newPassword)
		assert.ErrorIs(t, err, auth.ErrResetTokenInvalid)
		assert.Equal(t, p.PasswordHash, h.principals.get(p.ID).PasswordHash)
	})

	t.Run("concurrent completion succeeds exactly once", func(t *testing.T) {
		h := newHarness(t)
		h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
		issue, err := h.resetMgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)

		const callers = 8
		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			invalid   atomic.Int32
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.resetMgr.Complete(ctx, issue.RawToken, newPassword)
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, auth.ErrResetTokenInvalid):
					invalid.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load())
		assert.Equal(t, int32(callers-1), invalid.Load())
	})

	t.Run("consume failure is internal", func(t *testing.T) {
		clock := newFakeClock()
		_, hash, err := auth.GenerateResetToken()
		require.NoError(t, err)
		tok, err := auth.NewResetToken(ulid.Make(), hash, clock.Now(), auth.ResetTokenExpiry)
		require.NoError(t, err)

		tokens := mocks.NewMockResetTokenStore(t)
		tokens.On("FindByHash", ctx, mock.Anything).Return(tok, nil)
		tokens.On("Consume", ctx, hash, clock.Now(), mock.AnythingOfType("string")).
			Return(ulid.ULID{}, errors.New("serialization failure"))

		mgr, err := auth.NewResetTokenManager(auth.ResetDeps{
			Credentials: mocks.NewMockCredentialStore(t),
			Tokens:      tokens,
			Counters:    counter.NewMemoryStore(),
			Policy:      auth.NewPasswordPolicy(),
			Hasher:      newTestHasher(),
			Sessions:    failingRevoker{},
			Now:         clock.Now,
		}, auth.DefaultResetConfig())
		require.NoError(t, err)

		_, err = mgr.Complete(ctx, "raw-secret", newPassword)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
		errutil.AssertErrorCode(t, err, "RESET_COMPLETE_FAILED")
	})

	t.Run("revocation failure is reported after the password changed", func(t *testing.T) {
		h := newHarness(t)
		p := h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
		mgr, err := auth.NewResetTokenManager(auth.ResetDeps{
			Credentials: h.principals,
			Tokens:      h.resets,
			Counters:    h.counters,
			Policy:      auth.NewPasswordPolicy(),
			Hasher:      h.hasher,
			Sessions:    failingRevoker{err: errors.New("redis down")},
			Now:         h.clock.Now,
		}, auth.DefaultResetConfig())
		require.NoError(t, err)

		issue, err := mgr.Initiate(ctx, curatorEmail)
		require.NoError(t, err)
		_, err = mgr.Complete(ctx, issue.RawToken, newPassword)
		errutil.AssertErrorCode(t, err, "RESET_SESSION_REVOKE_FAILED")

		ok, err := h.hasher.Verify(ctx, newPassword, h.principals.get(p.ID).PasswordHash)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestResetTokenManager_SweepExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
	h.addPrincipal(t, "archivist@elouarate.com", curatorPassword, auth.RoleUser)

	_, err := h.resetMgr.Initiate(ctx, curatorEmail)
	require.NoError(t, err)
	h.clock.Advance(10 * time.Minute)
	_, err = h.resetMgr.Initiate(ctx, "archivist@elouarate.com")
	require.NoError(t, err)

	h.clock.Advance(6 * time.Minute)
	n, err := h.resetMgr.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, h.resets.len())

	n, err = h.resetMgr.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResetTokenManager_RunSweeper(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t)
	h.addPrincipal(t, curatorEmail, curatorPassword, auth.RoleUser)
	_, err := h.resetMgr.Initiate(ctx, curatorEmail)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.resetMgr.RunSweeper(ctx, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return h.resets.len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
