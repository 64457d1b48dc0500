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

// ResetTokenRepository implements auth.ResetTokenStore using PostgreSQL.
// The principal_id primary key keeps at most one token per principal.
type ResetTokenRepository struct {
	pool poolIface
}

// NewResetTokenRepository creates a new ResetTokenRepository.
func NewResetTokenRepository(pool poolIface) *ResetTokenRepository {
	return &ResetTokenRepository{pool: pool}
}

// Save stores the token, replacing any previous token of the principal.
func (r *ResetTokenRepository) Save(ctx context.Context, token *auth.ResetToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO password_resets (principal_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at
	`, token.PrincipalID.String(), token.TokenHash, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return oops.Code("RESET_SAVE_FAILED").
			With("operation", "upsert password_reset").
			With("principal_id", token.PrincipalID.String()).
			Wrap(err)
	}
	return nil
}

// FindByHash retrieves a token by the hash of its secret.
func (r *ResetTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT principal_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)

	token, err := scanResetToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Consume deletes the live token and sets the new password hash in one
// transaction. Only one concurrent caller can delete the row, so only one
// password change commits.
func (r *ResetTokenRepository) Consume(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (ulid.ULID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ulid.ULID{}, oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var principalIDStr string
	err = tx.QueryRow(ctx, `
		DELETE FROM password_resets
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING principal_id
	`, tokenHash, now).Scan(&principalIDStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_CONSUME_FAILED").
			With("operation", "delete password_reset").
			Wrap(err)
	}

	principalID, err := ulid.Parse(principalIDStr)
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_INVALID_PRINCIPAL_ID").
			With("principal_id", principalIDStr).
			Wrap(err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE principals SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, principalIDStr, newPasswordHash, now)
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_CONSUME_FAILED").
			With("operation", "update password").
			With("principal_id", principalIDStr).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return ulid.ULID{}, oops.Code("PRINCIPAL_NOT_FOUND").
			With("principal_id", principalIDStr).
			Wrap(auth.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return ulid.ULID{}, oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return principalID, nil
}

// DeleteByPrincipal removes the token of a principal, if any.
func (r *ResetTokenRepository) DeleteByPrincipal(ctx context.Context, principalID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM password_resets WHERE principal_id = $1
	`, principalID.String())
	if err != nil {
		return oops.Code("RESET_DELETE_BY_PRINCIPAL_FAILED").
			With("operation", "delete password_reset by principal").
			With("principal_id", principalID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes tokens that expired at or before now and returns the count.
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM password_resets WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired password_resets").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanResetToken scans a single row into a ResetToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanResetToken(row pgx.Row) (*auth.ResetToken, error) {
	var (
		principalIDStr string
		tokenHash      string
		expiresAt      time.Time
		createdAt      time.Time
	)

	err := row.Scan(&principalIDStr, &tokenHash, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("RESET_SCAN_FAILED").
			With("operation", "scan password_reset").
			Wrap(err)
	}

	principalID, err := ulid.Parse(principalIDStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_PRINCIPAL_ID").
			With("operation", "parse principal id").
			With("principal_id", principalIDStr).
			Wrap(err)
	}

	return &auth.ResetToken{
		PrincipalID: principalID,
		TokenHash:   tokenHash,
		ExpiresAt:   expiresAt,
		CreatedAt:   createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.ResetTokenStore = (*ResetTokenRepository)(nil)
