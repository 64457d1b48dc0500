// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with any extra key/value args. For oops
// errors the code and context are logged as separate attributes.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	LogErrorContext(context.Background(), logger, msg, err, args...)
}

// LogErrorContext is LogError with a context so trace-aware handlers can
// correlate the record.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error, args ...any) {
	logger.ErrorContext(ctx, msg, append(errorAttrs(err), args...)...)
}

func errorAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}
