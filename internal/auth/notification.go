// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"time"
)

// NotificationSink delivers password reset messages to principals.
// Delivery is fire-and-forget: callers log failures and never fail the
// reset flow because of them.
type NotificationSink interface {
	// SendPasswordResetLink delivers the raw reset secret.
	SendPasswordResetLink(ctx context.Context, principal *Principal, rawToken string, expiresAt time.Time) error

	// SendPasswordResetConfirmation tells the principal the password changed.
	SendPasswordResetConfirmation(ctx context.Context, principal *Principal) error
}
