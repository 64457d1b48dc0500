// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken indicates a principal with the same email already exists.
var ErrEmailTaken = errors.New("email already registered")

// ErrInvalidEmail indicates an email that is not a bare address.
var ErrInvalidEmail = errors.New("invalid email address")

// Kind identifies a member of the closed set of authentication failures.
// Every error returned by this package maps to exactly one Kind via KindOf.
type Kind string

// Authentication failure kinds.
const (
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindAccountLocked      Kind = "ACCOUNT_LOCKED"
	KindAccountInactive    Kind = "ACCOUNT_INACTIVE"
	KindTokenExpired       Kind = "TOKEN_EXPIRED"
	KindTokenInvalid       Kind = "TOKEN_INVALID"
	KindTokenRevoked       Kind = "TOKEN_REVOKED"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindWeakPassword       Kind = "WEAK_PASSWORD"
	KindResetTokenInvalid  Kind = "RESET_TOKEN_INVALID"
	// KindInternal covers store, transport and programming failures.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured form of an authentication failure.
// RetryAfter is set for KindAccountLocked and KindRateLimited.
// Violations is set for KindWeakPassword.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	Violations []Violation
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidCredentials:
		return "invalid email or password"
	case KindAccountLocked:
		return fmt.Sprintf("account is temporarily locked, retry after %s", e.RetryAfter.Round(time.Second))
	case KindAccountInactive:
		return "account is inactive"
	case KindTokenExpired:
		return "token has expired"
	case KindTokenInvalid:
		return "token is invalid"
	case KindTokenRevoked:
		return "token has been revoked"
	case KindRateLimited:
		return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter.Round(time.Second))
	case KindWeakPassword:
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.Message()
		}
		return "password does not meet policy: " + strings.Join(parts, "; ")
	case KindResetTokenInvalid:
		return "reset token is invalid or has expired"
	default:
		return "internal error"
	}
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrAccountLocked)
// holds regardless of the RetryAfter value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrAccountLocked      = &Error{Kind: KindAccountLocked}
	ErrAccountInactive    = &Error{Kind: KindAccountInactive}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired}
	ErrTokenInvalid       = &Error{Kind: KindTokenInvalid}
	ErrTokenRevoked       = &Error{Kind: KindTokenRevoked}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrWeakPassword       = &Error{Kind: KindWeakPassword}
	ErrResetTokenInvalid  = &Error{Kind: KindResetTokenInvalid}
)

// KindOf classifies err. It returns the empty Kind for a nil error and
// KindInternal for anything outside the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}

// AsError extracts the structured failure from err.
func AsError(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

func newKindError(kind Kind) error {
	return oops.Code(string(kind)).Wrap(&Error{Kind: kind})
}

func accountLockedError(retryAfter time.Duration) error {
	return oops.Code(string(KindAccountLocked)).
		With("retry_after", retryAfter.String()).
		Wrap(&Error{Kind: KindAccountLocked, RetryAfter: retryAfter})
}

func rateLimitedError(retryAfter time.Duration) error {
	return oops.Code(string(KindRateLimited)).
		With("retry_after", retryAfter.String()).
		Wrap(&Error{Kind: KindRateLimited, RetryAfter: retryAfter})
}

func weakPasswordError(violations []Violation) error {
	return oops.Code(string(KindWeakPassword)).
		With("violations", violations).
		Wrap(&Error{Kind: KindWeakPassword, Violations: violations})
}
