// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/elouarate/gallery-admin/internal/auth"
)

const principalColumns = `id, email, password_hash, role, is_active, last_login, created_at, updated_at`

// PrincipalRepository implements auth.CredentialStore using PostgreSQL.
type PrincipalRepository struct {
	pool poolIface
}

// NewPrincipalRepository creates a new PrincipalRepository.
func NewPrincipalRepository(pool poolIface) *PrincipalRepository {
	return &PrincipalRepository{pool: pool}
}

// Create stores a new principal. A duplicate email yields auth.ErrEmailTaken.
func (r *PrincipalRepository) Create(ctx context.Context, p *auth.Principal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		p.ID.String(),
		p.Email,
		p.PasswordHash,
		string(p.Role),
		p.IsActive,
		p.LastLogin,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("PRINCIPAL_EMAIL_TAKEN").
			With("email", p.Email).
			Wrap(auth.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("PRINCIPAL_CREATE_FAILED").
			With("operation", "insert principal").
			With("email", p.Email).
			Wrap(err)
	}
	return nil
}

// FindByID retrieves a principal by ID.
func (r *PrincipalRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.Principal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE id = $1
	`, id.String())

	p, err := scanPrincipal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PRINCIPAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PRINCIPAL_GET_BY_ID_FAILED").
			With("operation", "get principal by id").
			With("id", id.String()).
			Wrap(err)
	}
	return p, nil
}

// FindByEmail retrieves a principal by email (case-insensitive).
func (r *PrincipalRepository) FindByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE LOWER(email) = LOWER($1)
	`, email)

	p, err := scanPrincipal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PRINCIPAL_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PRINCIPAL_GET_BY_EMAIL_FAILED").
			With("operation", "get principal by email").
			With("email", email).
			Wrap(err)
	}
	return p, nil
}

// UpdatePassword replaces the password hash.
func (r *PrincipalRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE principals SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, time.Now())
	if err != nil {
		return oops.Code("PRINCIPAL_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PRINCIPAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// TouchLastLogin records a successful authentication.
func (r *PrincipalRepository) TouchLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE principals SET last_login = $2
		WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("PRINCIPAL_TOUCH_FAILED").
			With("operation", "update last login").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PRINCIPAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetActive activates or deactivates a principal.
func (r *PrincipalRepository) SetActive(ctx context.Context, id ulid.ULID, active bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE principals SET is_active = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), active, time.Now())
	if err != nil {
		return oops.Code("PRINCIPAL_SET_ACTIVE_FAILED").
			With("operation", "update is_active").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PRINCIPAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// CountActive returns the number of active principals.
func (r *PrincipalRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM principals WHERE is_active`).Scan(&n); err != nil {
		return 0, oops.Code("PRINCIPAL_COUNT_FAILED").
			With("operation", "count active principals").
			Wrap(err)
	}
	return n, nil
}

// scanPrincipal scans a single row into a Principal.
// Callers are responsible for handling pgx.ErrNoRows.
func scanPrincipal(row pgx.Row) (*auth.Principal, error) {
	var (
		idStr        string
		email        string
		passwordHash string
		role         string
		isActive     bool
		lastLogin    *time.Time
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(&idStr, &email, &passwordHash, &role, &isActive, &lastLogin, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("PRINCIPAL_SCAN_FAILED").
			With("operation", "scan principal").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("PRINCIPAL_INVALID_ID").
			With("operation", "parse principal id").
			With("id", idStr).
			Wrap(err)
	}
	parsedRole, err := auth.ParseRole(role)
	if err != nil {
		return nil, err
	}

	return &auth.Principal{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         parsedRole,
		IsActive:     isActive,
		LastLogin:    lastLogin,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.CredentialStore = (*PrincipalRepository)(nil)
