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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/elouarate/gallery-admin/pkg/errutil"
)

const tracerName = "github.com/elouarate/gallery-admin/internal/auth"

// OrchestratorDeps are the collaborators of an Orchestrator.
type OrchestratorDeps struct {
	Credentials CredentialStore
	Hasher      PasswordHasher
	Policy      *PasswordPolicy
	Tokens      *TokenService
	Attempts    *AttemptGuard
	Resets      *ResetTokenManager
	Notifier    NotificationSink
	Bootstrap   BootstrapConfig
	Now         func() time.Time
	Logger      *slog.Logger
}

// LoginResult is returned by a successful login. Principal is redacted.
type LoginResult struct {
	Principal *Principal
	Tokens    *TokenPair
	// Provisioned is true when this login created the bootstrap administrator.
	Provisioned bool
}

// Orchestrator composes the credential primitives into the login, refresh,
// logout and password reset flows.
type Orchestrator struct {
	credentials CredentialStore
	hasher      PasswordHasher
	policy      *PasswordPolicy
	tokens      *TokenService
	attempts    *AttemptGuard
	resets      *ResetTokenManager
	notifier    NotificationSink
	bootstrap   BootstrapConfig
	now         func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer

	// dummyHash is verified against when the email is unknown so the
	// response time does not reveal whether an account exists.
	dummyHash string
}

// NewOrchestrator validates deps and creates an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	switch {
	case deps.Credentials == nil:
		return nil, oops.Code("ORCHESTRATOR_INVALID").Errorf("credential store is required")
	case deps.Hasher == nil:
		return nil, oops.Code("ORCHESTRATOR_INVALID").Errorf("password hasher is required")
	case deps.Policy == nil:
		return nil, oops.Code("ORCHESTRATOR_INVALID").Errorf("password policy is required")
	case deps.Tokens == nil:
		return nil, oops.Code("ORCHESTRATOR_INVALID").Errorf("token service is required")
	case deps.Attempts == nil:
		return nil, oops.Code("ORCHESTRATOR_INVALID").Errorf("attempt guard is required")
	case deps.Resets == nil:
		return nil, oops.Code("ORCHESTRATOR_INVALID").Errorf("reset token manager is required")
	case deps.Notifier == nil:
		return nil, oops.Code("ORCHESTRATOR_INVALID").Errorf("notification sink is required")
	}
	if err := deps.Bootstrap.Validate(deps.Policy); err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	dummy, err := deps.Hasher.Hash(context.Background(), ulid.Make().String())
	if err != nil {
		return nil, oops.Code("ORCHESTRATOR_INVALID").With("operation", "hash dummy password").Wrap(err)
	}

	return &Orchestrator{
		credentials: deps.Credentials,
		hasher:      deps.Hasher,
		policy:      deps.Policy,
		tokens:      deps.Tokens,
		attempts:    deps.Attempts,
		resets:      deps.Resets,
		notifier:    deps.Notifier,
		bootstrap:   deps.Bootstrap,
		now:         deps.Now,
		logger:      deps.Logger,
		tracer:      otel.Tracer(tracerName),
		dummyHash:   dummy,
	}, nil
}

func (o *Orchestrator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "auth."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_kind", string(KindOf(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

// Login authenticates email and password and issues a token pair.
//
// The lockout check runs before any credential lookup, so a locked
// identifier is refused even with the correct password. Unknown emails and
// wrong passwords fail identically and both count toward the lockout. Any
// store failure denies the login.
func (o *Orchestrator) Login(ctx context.Context, email, password string) (res *LoginResult, err error) {
	ctx, span := o.startSpan(ctx, "Login")
	defer func() {
		LoginAttempts.WithLabelValues(resultLabel(err)).Inc()
		endSpan(span, err)
	}()

	identifier := NormalizeEmail(email)
	if err := o.attempts.CheckAllowed(ctx, identifier); err != nil {
		if KindOf(err) == KindAccountLocked {
			o.logger.InfoContext(ctx, "login refused for locked identifier", "identifier", identifier)
		}
		return nil, err
	}

	provisioned := false
	principal, err := o.credentials.FindByEmail(ctx, identifier)
	switch {
	case errors.Is(err, ErrNotFound):
		principal, provisioned, err = o.provisionOnLogin(ctx, identifier, password)
		if err != nil {
			return nil, err
		}
		if principal == nil {
			// Equalize timing with the known-account path.
			_, _ = o.hasher.Verify(ctx, password, o.dummyHash) //nolint:errcheck // result intentionally discarded
			return nil, o.recordFailure(ctx, identifier)
		}
	case err != nil:
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "find principal").Wrap(err)
	}

	valid, err := o.hasher.Verify(ctx, password, principal.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("principal_id", principal.ID.String()).
			Wrap(err)
	}
	if !valid {
		return nil, o.recordFailure(ctx, identifier)
	}
	if !principal.IsActive {
		o.logger.InfoContext(ctx, "login refused for inactive principal", "principal_id", principal.ID.String())
		return nil, newKindError(KindAccountInactive)
	}

	if err := o.attempts.RecordSuccess(ctx, identifier); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "reset failures").Wrap(err)
	}

	now := o.now()
	if err := o.credentials.TouchLastLogin(ctx, principal.ID, now); err != nil {
		errutil.LogError(o.logger, "record last login", err)
	} else {
		principal.LastLogin = &now
	}
	o.upgradeHash(ctx, principal, password)

	pair, err := o.tokens.Issue(ctx, principal)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("auth.principal_id", principal.ID.String()))
	o.logger.InfoContext(ctx, "login succeeded",
		"principal_id", principal.ID.String(),
		"role", string(principal.Role),
	)
	return &LoginResult{Principal: principal.Redacted(), Tokens: pair, Provisioned: provisioned}, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, identifier string) error {
	failures, err := o.attempts.RecordFailure(ctx, identifier)
	if err != nil {
		return oops.Code("AUTH_LOGIN_FAILED").With("operation", "record failure").Wrap(err)
	}
	o.logger.InfoContext(ctx, "login failed", "identifier", identifier, "failures", failures)
	return newKindError(KindInvalidCredentials)
}

// upgradeHash rehashes the password when the stored hash uses outdated
// parameters. Failures are logged and never fail the login.
func (o *Orchestrator) upgradeHash(ctx context.Context, principal *Principal, password string) {
	if !o.hasher.NeedsUpgrade(principal.PasswordHash) {
		return
	}
	newHash, err := o.hasher.Hash(ctx, password)
	if err != nil {
		errutil.LogError(o.logger, "rehash password", err)
		return
	}
	if err := o.credentials.UpdatePassword(ctx, principal.ID, newHash); err != nil {
		errutil.LogError(o.logger, "store upgraded password hash", err)
		return
	}
	principal.PasswordHash = newHash
	o.logger.InfoContext(ctx, "password hash upgraded", "principal_id", principal.ID.String())
}

// Refresh redeems a refresh token and issues a new pair. The old refresh
// token is unusable afterwards, and a replayed one fails with TokenRevoked.
func (o *Orchestrator) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	ctx, span := o.startSpan(ctx, "Refresh")
	defer func() { endSpan(span, err) }()

	claims, err := o.tokens.Redeem(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	id, err := claims.PrincipalID()
	if err != nil {
		return nil, err
	}

	principal, err := o.credentials.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(string(KindTokenInvalid)).
			With("principal_id", id.String()).
			With("reason", "principal no longer exists").
			Wrap(&Error{Kind: KindTokenInvalid})
	}
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").With("operation", "find principal").Wrap(err)
	}
	if !principal.IsActive {
		return nil, newKindError(KindAccountInactive)
	}

	return o.tokens.Issue(ctx, principal)
}

// Authenticate verifies an access token and returns its claims.
func (o *Orchestrator) Authenticate(ctx context.Context, accessToken string) (claims *Claims, err error) {
	ctx, span := o.startSpan(ctx, "Authenticate")
	defer func() { endSpan(span, err) }()

	return o.tokens.Verify(ctx, accessToken, TokenTypeAccess)
}

// Logout revokes the access token and, when given, the refresh token of the
// same session. A refresh token that is already expired or revoked is
// ignored; one belonging to another principal fails with TokenInvalid.
func (o *Orchestrator) Logout(ctx context.Context, accessToken, refreshToken string) (err error) {
	ctx, span := o.startSpan(ctx, "Logout")
	defer func() { endSpan(span, err) }()

	claims, err := o.tokens.Verify(ctx, accessToken, TokenTypeAccess)
	if err != nil {
		return err
	}

	var refreshClaims *Claims
	if refreshToken != "" {
		rc, verr := o.tokens.Verify(ctx, refreshToken, TokenTypeRefresh)
		switch kind := KindOf(verr); {
		case verr == nil:
			if rc.Subject != claims.Subject {
				return oops.Code(string(KindTokenInvalid)).
					With("reason", "refresh token belongs to another principal").
					Wrap(&Error{Kind: KindTokenInvalid})
			}
			refreshClaims = rc
		case kind == KindTokenExpired || kind == KindTokenRevoked:
		default:
			return verr
		}
	}

	if err := o.tokens.RevokeClaims(ctx, claims); err != nil {
		return err
	}
	if refreshClaims != nil {
		if err := o.tokens.RevokeClaims(ctx, refreshClaims); err != nil {
			return err
		}
	}

	o.logger.InfoContext(ctx, "logout", "principal_id", claims.Subject)
	return nil
}

// LogoutAll revokes every token ever issued to the caller.
func (o *Orchestrator) LogoutAll(ctx context.Context, accessToken string) (err error) {
	ctx, span := o.startSpan(ctx, "LogoutAll")
	defer func() { endSpan(span, err) }()

	claims, err := o.tokens.Verify(ctx, accessToken, TokenTypeAccess)
	if err != nil {
		return err
	}
	id, err := claims.PrincipalID()
	if err != nil {
		return err
	}
	if err := o.tokens.RevokeAll(ctx, id); err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "all sessions revoked", "principal_id", id.String())
	return nil
}

// InitiateReset starts a password reset. It succeeds silently for unknown
// or inactive emails; only RateLimited and internal failures are reported.
func (o *Orchestrator) InitiateReset(ctx context.Context, email string) (err error) {
	ctx, span := o.startSpan(ctx, "InitiateReset")
	defer func() { endSpan(span, err) }()

	issue, err := o.resets.Initiate(ctx, email)
	if err != nil {
		return err
	}
	if issue == nil {
		return nil
	}

	if err := o.notifier.SendPasswordResetLink(ctx, issue.Principal.Redacted(), issue.RawToken, issue.ExpiresAt); err != nil {
		errutil.LogError(o.logger, "send password reset link", err)
	}
	return nil
}

// ValidateResetToken reports whether a raw reset token is live, without
// consuming it.
func (o *Orchestrator) ValidateResetToken(ctx context.Context, rawToken string) (err error) {
	ctx, span := o.startSpan(ctx, "ValidateResetToken")
	defer func() { endSpan(span, err) }()

	_, err = o.resets.Validate(ctx, rawToken)
	return err
}

// CompleteReset sets a new password using a reset token. Every session of
// the principal is revoked and the failure counter cleared.
func (o *Orchestrator) CompleteReset(ctx context.Context, rawToken, newPassword string) (err error) {
	ctx, span := o.startSpan(ctx, "CompleteReset")
	defer func() { endSpan(span, err) }()

	principal, err := o.resets.Complete(ctx, rawToken, newPassword)
	if err != nil {
		return err
	}
	if principal == nil {
		return nil
	}

	if err := o.attempts.RecordSuccess(ctx, principal.Email); err != nil {
		errutil.LogError(o.logger, "clear login failures after reset", err)
	}
	if err := o.notifier.SendPasswordResetConfirmation(ctx, principal.Redacted()); err != nil {
		errutil.LogError(o.logger, "send password reset confirmation", err)
	}
	return nil
}

// CreatePrincipal registers a new active principal after enforcing the
// password policy. The returned principal is redacted.
func (o *Orchestrator) CreatePrincipal(ctx context.Context, email, password string, role Role) (p *Principal, err error) {
	ctx, span := o.startSpan(ctx, "CreatePrincipal")
	defer func() { endSpan(span, err) }()

	if err := ValidateEmail(NormalizeEmail(email)); err != nil {
		return nil, err
	}
	if err := o.policy.Require(password); err != nil {
		return nil, err
	}
	hash, err := o.hasher.Hash(ctx, password)
	if err != nil {
		return nil, oops.Code("PRINCIPAL_CREATE_FAILED").With("operation", "hash password").Wrap(err)
	}
	principal, err := NewPrincipal(email, hash, role)
	if err != nil {
		return nil, err
	}
	if err := o.credentials.Create(ctx, principal); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, oops.Code("PRINCIPAL_EMAIL_TAKEN").With("email", principal.Email).Wrap(err)
		}
		return nil, oops.Code("PRINCIPAL_CREATE_FAILED").With("operation", "persist principal").Wrap(err)
	}

	o.logger.InfoContext(ctx, "principal created",
		"principal_id", principal.ID.String(),
		"role", string(principal.Role),
	)
	return principal.Redacted(), nil
}

// CheckPassword scores a candidate password without storing anything.
func (o *Orchestrator) CheckPassword(password string) Assessment {
	return o.policy.Check(password)
}

// SweepExpiredResets deletes expired reset tokens.
func (o *Orchestrator) SweepExpiredResets(ctx context.Context) (int64, error) {
	return o.resets.SweepExpired(ctx)
}
