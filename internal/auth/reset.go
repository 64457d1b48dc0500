// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32               // 32 bytes = 64 hex chars
	ResetTokenExpiry = 15 * time.Minute // lifetime of an issued token
)

// ResetToken is the stored form of a password reset secret. Only the
// SHA-256 hash of the secret is kept; at most one exists per principal.
type ResetToken struct {
	PrincipalID ulid.ULID
	TokenHash   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// NewResetToken creates a ResetToken for principalID expiring ttl after now.
func NewResetToken(principalID ulid.ULID, tokenHash string, now time.Time, ttl time.Duration) (*ResetToken, error) {
	if principalID.IsZero() {
		return nil, oops.Code("RESET_TOKEN_INVALID_ARGS").Errorf("principal id is required")
	}
	if len(tokenHash) != sha256.Size*2 {
		return nil, oops.Code("RESET_TOKEN_INVALID_ARGS").Errorf("token hash must be a hex sha256 digest")
	}
	if ttl <= 0 {
		return nil, oops.Code("RESET_TOKEN_INVALID_ARGS").Errorf("ttl must be positive")
	}
	return &ResetToken{
		PrincipalID: principalID,
		TokenHash:   tokenHash,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}, nil
}

// IsExpiredAt reports whether the token is expired at the given time.
func (r *ResetToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// GenerateResetToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is delivered to the user; only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashResetToken(token), nil
}

// HashResetToken computes the hex SHA-256 of a token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ResetTokenStore persists reset tokens. Implementations must make Save an
// overwrite per principal and Consume a single atomic unit.
type ResetTokenStore interface {
	// Save stores the token, replacing any existing token for the principal.
	Save(ctx context.Context, token *ResetToken) error

	// FindByHash returns ErrNotFound if no token has the hash.
	FindByHash(ctx context.Context, tokenHash string) (*ResetToken, error)

	// Consume deletes the token with tokenHash if it has not expired at now
	// and sets the owner's password hash, atomically. Returns the owner's ID,
	// or ErrNotFound if no live token matched.
	Consume(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (ulid.ULID, error)

	// DeleteByPrincipal removes any token for the principal.
	DeleteByPrincipal(ctx context.Context, principalID ulid.ULID) error

	// DeleteExpired removes tokens that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
