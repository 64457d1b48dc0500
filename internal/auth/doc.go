// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

// Package auth implements the credential lifecycle of the gallery
// administration service.
//
// # Primitives
//
//   - TokenService - signed access/refresh tokens, blacklist and session generations
//   - AttemptGuard - failed-login counting and time-bounded lockout
//   - ResetTokenManager - single-use password reset tokens
//   - PasswordPolicy - password complexity rules and strength scoring
//   - PasswordHasher - argon2id hashing, optionally bounded by BoundedHasher
//
// Shared state lives behind SharedCounterStore and durable records behind
// CredentialStore and ResetTokenStore, so any number of service instances
// can run against the same backends.
//
// # Orchestration
//
// Orchestrator composes the primitives into login, refresh, logout and
// password reset flows. Every failure it reports is classified by Kind;
// use KindOf or errors.Is with the Err* sentinels to branch on it.
//
// Domain types should be created with their constructors (NewPrincipal,
// NewResetToken). Direct struct initialization bypasses validation.
package auth
