// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/samber/oops"
)

// Default bootstrap administrator credentials. Deployments are expected to
// override or disable them.
const (
	DefaultBootstrapEmail    = "admin@elouarate.com"
	DefaultBootstrapPassword = "Admin123!" //nolint:gosec // G101: documented first-run default
)

// BootstrapConfig describes the administrator provisioned on an empty store.
type BootstrapConfig struct {
	Enabled  bool
	Email    string
	Password string
}

// DefaultBootstrapConfig returns the enabled default bootstrap configuration.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		Enabled:  true,
		Email:    DefaultBootstrapEmail,
		Password: DefaultBootstrapPassword,
	}
}

// Validate checks the bootstrap credentials. A disabled config is always valid.
func (c BootstrapConfig) Validate(policy *PasswordPolicy) error {
	if !c.Enabled {
		return nil
	}
	if err := ValidateEmail(NormalizeEmail(c.Email)); err != nil {
		return oops.Code("BOOTSTRAP_CONFIG_INVALID").Wrap(err)
	}
	if policy != nil {
		if result := policy.Validate(c.Password); !result.Valid {
			return oops.Code("BOOTSTRAP_CONFIG_INVALID").
				With("violations", result.Violations).
				Errorf("bootstrap password does not satisfy the password policy")
		}
	}
	return nil
}

// matches reports whether the login credentials are the bootstrap ones.
func (c BootstrapConfig) matches(email, password string) bool {
	if !c.Enabled || email != NormalizeEmail(c.Email) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
}

// EnsureBootstrapAdmin creates the bootstrap administrator when the store
// holds no active principal. It returns the redacted administrator and
// whether this call created it; when active principals exist it returns
// (nil, false, nil).
func (o *Orchestrator) EnsureBootstrapAdmin(ctx context.Context) (p *Principal, created bool, err error) {
	ctx, span := o.startSpan(ctx, "EnsureBootstrapAdmin")
	defer func() { endSpan(span, err) }()

	admin, created, err := o.ensureBootstrapAdmin(ctx)
	if err != nil || admin == nil {
		return nil, created, err
	}
	return admin.Redacted(), created, nil
}

func (o *Orchestrator) ensureBootstrapAdmin(ctx context.Context) (*Principal, bool, error) {
	if !o.bootstrap.Enabled {
		return nil, false, nil
	}

	active, err := o.credentials.CountActive(ctx)
	if err != nil {
		return nil, false, oops.Code("BOOTSTRAP_FAILED").With("operation", "count active principals").Wrap(err)
	}
	if active > 0 {
		return nil, false, nil
	}

	hash, err := o.hasher.Hash(ctx, o.bootstrap.Password)
	if err != nil {
		return nil, false, oops.Code("BOOTSTRAP_FAILED").With("operation", "hash password").Wrap(err)
	}
	admin, err := NewPrincipal(o.bootstrap.Email, hash, RoleAdmin)
	if err != nil {
		return nil, false, oops.Code("BOOTSTRAP_FAILED").Wrap(err)
	}

	if err := o.credentials.Create(ctx, admin); err != nil {
		if !errors.Is(err, ErrEmailTaken) {
			return nil, false, oops.Code("BOOTSTRAP_FAILED").With("operation", "persist principal").Wrap(err)
		}
		// Lost a race with a concurrent bootstrap, or the address exists
		// but is inactive.
		existing, ferr := o.credentials.FindByEmail(ctx, admin.Email)
		if ferr != nil {
			return nil, false, oops.Code("BOOTSTRAP_FAILED").With("operation", "find principal").Wrap(ferr)
		}
		return existing, false, nil
	}

	o.logger.WarnContext(ctx, "bootstrap administrator provisioned; change its password",
		"principal_id", admin.ID.String(),
		"email", admin.Email,
	)
	return admin, true, nil
}

// provisionOnLogin runs the bootstrap when an unknown email logs in with
// the bootstrap credentials. It returns a nil principal when no
// provisioning applies.
func (o *Orchestrator) provisionOnLogin(ctx context.Context, email, password string) (*Principal, bool, error) {
	if !o.bootstrap.matches(email, password) {
		return nil, false, nil
	}
	return o.ensureBootstrapAdmin(ctx)
}
