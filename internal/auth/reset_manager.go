// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/elouarate/gallery-admin/pkg/errutil"
)

// Reset request limiting defaults.
const (
	DefaultMaxResetRequests   = 5
	DefaultResetRequestWindow = time.Hour
)

// ResetConfig configures a ResetTokenManager.
type ResetConfig struct {
	TokenTTL      time.Duration
	MaxRequests   int
	RequestWindow time.Duration
}

// DefaultResetConfig returns the default reset policy.
func DefaultResetConfig() ResetConfig {
	return ResetConfig{
		TokenTTL:      ResetTokenExpiry,
		MaxRequests:   DefaultMaxResetRequests,
		RequestWindow: DefaultResetRequestWindow,
	}
}

// SessionRevoker invalidates every outstanding token of a principal.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, principalID ulid.ULID) error
}

// ResetDeps are the collaborators of a ResetTokenManager.
type ResetDeps struct {
	Credentials CredentialStore
	Tokens      ResetTokenStore
	Counters    SharedCounterStore
	Policy      *PasswordPolicy
	Hasher      PasswordHasher
	Sessions    SessionRevoker
	Now         func() time.Time
	Logger      *slog.Logger
}

// ResetIssue is a freshly issued reset secret ready for delivery.
type ResetIssue struct {
	Principal *Principal
	RawToken  string
	ExpiresAt time.Time
}

// ResetTokenManager issues, validates and consumes single-use password
// reset tokens.
type ResetTokenManager struct {
	credentials CredentialStore
	tokens      ResetTokenStore
	counters    SharedCounterStore
	policy      *PasswordPolicy
	hasher      PasswordHasher
	sessions    SessionRevoker
	cfg         ResetConfig
	now         func() time.Time
	logger      *slog.Logger
}

// NewResetTokenManager creates a ResetTokenManager. Zero fields in cfg take defaults.
func NewResetTokenManager(deps ResetDeps, cfg ResetConfig) (*ResetTokenManager, error) {
	switch {
	case deps.Credentials == nil:
		return nil, oops.Code("RESET_MANAGER_INVALID").Errorf("credential store is required")
	case deps.Tokens == nil:
		return nil, oops.Code("RESET_MANAGER_INVALID").Errorf("reset token store is required")
	case deps.Counters == nil:
		return nil, oops.Code("RESET_MANAGER_INVALID").Errorf("counter store is required")
	case deps.Policy == nil:
		return nil, oops.Code("RESET_MANAGER_INVALID").Errorf("password policy is required")
	case deps.Hasher == nil:
		return nil, oops.Code("RESET_MANAGER_INVALID").Errorf("password hasher is required")
	case deps.Sessions == nil:
		return nil, oops.Code("RESET_MANAGER_INVALID").Errorf("session revoker is required")
	}

	def := DefaultResetConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = def.RequestWindow
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &ResetTokenManager{
		credentials: deps.Credentials,
		tokens:      deps.Tokens,
		counters:    deps.Counters,
		policy:      deps.Policy,
		hasher:      deps.Hasher,
		sessions:    deps.Sessions,
		cfg:         cfg,
		now:         deps.Now,
		logger:      deps.Logger,
	}, nil
}

// Initiate issues a reset token for the principal owning email.
// Unknown and inactive accounts yield (nil, nil), indistinguishable to the
// caller from a successful issuance; a token still pending for an inactive
// principal is dropped. More than MaxRequests requests inside any sliding
// RequestWindow fail with RateLimited, and refused requests are not counted.
func (m *ResetTokenManager) Initiate(ctx context.Context, email string) (*ResetIssue, error) {
	email = NormalizeEmail(email)

	principal, err := m.credentials.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		m.logger.DebugContext(ctx, "password reset requested for unknown email")
		ResetRequests.WithLabelValues("initiate", "unknown").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("RESET_REQUEST_FAILED").With("operation", "find principal").Wrap(err)
	}
	if !principal.IsActive {
		m.logger.InfoContext(ctx, "password reset requested for inactive principal", "principal_id", principal.ID.String())
		ResetRequests.WithLabelValues("initiate", "inactive").Inc()
		if err := m.tokens.DeleteByPrincipal(ctx, principal.ID); err != nil {
			errutil.LogErrorContext(ctx, m.logger, "drop reset token of inactive principal", err,
				"principal_id", principal.ID.String())
		}
		return nil, nil
	}

	now := m.now()
	window, err := m.counters.RecordInWindow(ctx, keyResetRequests+principal.ID.String(),
		now, m.cfg.RequestWindow, int64(m.cfg.MaxRequests))
	if err != nil {
		return nil, oops.Code("RESET_REQUEST_FAILED").With("operation", "count request").Wrap(err)
	}
	if !window.Recorded {
		retryAfter := m.cfg.RequestWindow
		if !window.Oldest.IsZero() {
			retryAfter = window.Oldest.Add(m.cfg.RequestWindow).Sub(now)
		}
		ResetRequests.WithLabelValues("initiate", string(KindRateLimited)).Inc()
		m.logger.WarnContext(ctx, "password reset rate limit exceeded",
			"principal_id", principal.ID.String(),
			"requests", window.Count,
			"retry_after", retryAfter,
		)
		return nil, rateLimitedError(retryAfter)
	}

	raw, hash, err := GenerateResetToken()
	if err != nil {
		return nil, oops.Code("RESET_REQUEST_FAILED").With("operation", "generate token").Wrap(err)
	}
	token, err := NewResetToken(principal.ID, hash, now, m.cfg.TokenTTL)
	if err != nil {
		return nil, oops.Code("RESET_REQUEST_FAILED").With("operation", "build token").Wrap(err)
	}
	if err := m.tokens.Save(ctx, token); err != nil {
		return nil, oops.Code("RESET_REQUEST_FAILED").With("operation", "save token").Wrap(err)
	}

	ResetRequests.WithLabelValues("initiate", OutcomeSuccess).Inc()
	m.logger.InfoContext(ctx, "password reset token issued",
		"principal_id", principal.ID.String(),
		"expires_at", token.ExpiresAt,
	)
	return &ResetIssue{Principal: principal, RawToken: raw, ExpiresAt: token.ExpiresAt}, nil
}

// Validate looks up a live token by its raw secret without consuming it.
func (m *ResetTokenManager) Validate(ctx context.Context, rawToken string) (*ResetToken, error) {
	if rawToken == "" {
		return nil, newKindError(KindResetTokenInvalid)
	}

	token, err := m.tokens.FindByHash(ctx, HashResetToken(rawToken))
	if errors.Is(err, ErrNotFound) {
		return nil, newKindError(KindResetTokenInvalid)
	}
	if err != nil {
		return nil, oops.Code("RESET_VALIDATE_FAILED").With("operation", "find token").Wrap(err)
	}
	if token.IsExpiredAt(m.now()) {
		return nil, oops.Code(string(KindResetTokenInvalid)).
			With("reason", "expired").
			With("principal_id", token.PrincipalID.String()).
			Wrap(&Error{Kind: KindResetTokenInvalid})
	}
	return token, nil
}

// Complete consumes the token and sets the new password, then revokes every
// session of the principal. It returns the principal for confirmation
// delivery; the principal is nil if it could not be reloaded.
func (m *ResetTokenManager) Complete(ctx context.Context, rawToken, newPassword string) (*Principal, error) {
	principal, err := m.complete(ctx, rawToken, newPassword)
	ResetRequests.WithLabelValues("complete", resultLabel(err)).Inc()
	return principal, err
}

func (m *ResetTokenManager) complete(ctx context.Context, rawToken, newPassword string) (*Principal, error) {
	token, err := m.Validate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if err := m.policy.Require(newPassword); err != nil {
		return nil, err
	}

	newHash, err := m.hasher.Hash(ctx, newPassword)
	if err != nil {
		return nil, oops.Code("RESET_COMPLETE_FAILED").With("operation", "hash password").Wrap(err)
	}

	principalID, err := m.tokens.Consume(ctx, token.TokenHash, m.now(), newHash)
	if errors.Is(err, ErrNotFound) {
		// Consumed or expired between validation and consumption.
		return nil, newKindError(KindResetTokenInvalid)
	}
	if err != nil {
		return nil, oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "consume token").
			With("principal_id", token.PrincipalID.String()).
			Wrap(err)
	}

	if err := m.sessions.RevokeAll(ctx, principalID); err != nil {
		return nil, oops.Code("RESET_SESSION_REVOKE_FAILED").
			With("principal_id", principalID.String()).
			Wrap(err)
	}

	m.logger.InfoContext(ctx, "password reset completed", "principal_id", principalID.String())

	principal, err := m.credentials.FindByID(ctx, principalID)
	if err != nil {
		errutil.LogError(m.logger, "reload principal after password reset", err)
		return nil, nil
	}
	return principal, nil
}

// SweepExpired deletes expired tokens. It is idempotent and safe to run
// concurrently; Validate re-checks expiry regardless.
func (m *ResetTokenManager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.tokens.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("RESET_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (m *ResetTokenManager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errutil.LogError(m.logger, "sweep expired reset tokens", err)
				continue
			}
			if n > 0 {
				m.logger.InfoContext(ctx, "swept expired reset tokens", "count", n)
			}
		}
	}
}
