// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/elouarate/gallery-admin/internal/auth"
)

var _ auth.NotificationSink = (*LogSink)(nil)

// LogSink logs notifications instead of delivering them. The raw reset
// secret is never written.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// SendPasswordResetLink logs the principal and link expiry.
func (s *LogSink) SendPasswordResetLink(ctx context.Context, principal *auth.Principal, _ string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "password reset link issued",
		"principal_id", principal.ID.String(),
		"expires_at", expiresAt)
	return nil
}

// SendPasswordResetConfirmation logs the completed reset.
func (s *LogSink) SendPasswordResetConfirmation(ctx context.Context, principal *auth.Principal) error {
	s.logger.InfoContext(ctx, "password reset confirmation issued",
		"principal_id", principal.ID.String())
	return nil
}
