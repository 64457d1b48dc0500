// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxEmailLength is the longest email address accepted (RFC 5321 path limit).
const MaxEmailLength = 254

// Role is the binary authorization class of a principal.
type Role string

// Principal roles.
const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", oops.Code("AUTH_INVALID_ROLE").
			With("role", s).
			Errorf("role must be USER or ADMIN")
	}
	return r, nil
}

// Principal is an authenticated identity with stored credentials.
type Principal struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPrincipal creates an active principal with a fresh ID.
// The email is normalized before validation.
func NewPrincipal(email, passwordHash string, role Role) (*Principal, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_PRINCIPAL").Errorf("password hash cannot be empty")
	}
	if !role.Valid() {
		return nil, oops.Code("AUTH_INVALID_ROLE").With("role", string(role)).Errorf("role must be USER or ADMIN")
	}

	now := time.Now()
	return &Principal{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsAdmin reports whether the principal holds the ADMIN role.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Redacted returns a copy without the password hash. Principals handed to
// notification sinks and callers outside the package are redacted.
func (p *Principal) Redacted() *Principal {
	cp := *p
	cp.PasswordHash = ""
	return &cp
}

// LogValue keeps the password hash out of structured logs.
func (p *Principal) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", p.ID.String()),
		slog.String("email", p.Email),
		slog.String("role", string(p.Role)),
		slog.Bool("active", p.IsActive),
	)
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// All lookups and attempt counters use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address such as "a@b.example".
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Wrapf(ErrInvalidEmail, "email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Wrapf(ErrInvalidEmail, "email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("email", email).
			Wrapf(ErrInvalidEmail, "email is not a valid address")
	}
	return nil
}

// CredentialStore is the durable source of principal records.
// Implementations must enforce email uniqueness case-insensitively.
type CredentialStore interface {
	// FindByEmail returns ErrNotFound if no principal has the given email.
	FindByEmail(ctx context.Context, email string) (*Principal, error)

	// FindByID returns ErrNotFound if the principal does not exist.
	FindByID(ctx context.Context, id ulid.ULID) (*Principal, error)

	// Create stores a new principal. Returns ErrEmailTaken on a duplicate email.
	Create(ctx context.Context, principal *Principal) error

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// TouchLastLogin records a successful authentication time.
	TouchLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// CountActive returns the number of active principals.
	CountActive(ctx context.Context) (int64, error)
}
