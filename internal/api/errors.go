// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package api

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/pkg/errutil"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	RetryAfter int64    `json:"retry_after,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// StatusFor maps an authentication failure kind to its HTTP status.
func StatusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindInvalidCredentials, auth.KindTokenExpired, auth.KindTokenInvalid, auth.KindTokenRevoked:
		return http.StatusUnauthorized
	case auth.KindAccountInactive:
		return http.StatusForbidden
	case auth.KindAccountLocked:
		return http.StatusLocked
	case auth.KindRateLimited:
		return http.StatusTooManyRequests
	case auth.KindWeakPassword:
		return http.StatusUnprocessableEntity
	case auth.KindResetTokenInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := auth.KindOf(err)
	status := StatusFor(kind)
	body := errorResponse{Error: string(kind)}

	authErr, ok := auth.AsError(err)
	switch {
	case ok && kind != auth.KindInternal:
		body.Message = authErr.Error()
		if secs := retryAfterSeconds(authErr.RetryAfter); secs > 0 {
			body.RetryAfter = secs
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		for _, v := range authErr.Violations {
			body.Violations = append(body.Violations, string(v))
		}
	default:
		body.Error = string(auth.KindInternal)
		body.Message = "internal error"
		errutil.LogErrorContext(r.Context(), logger, "request failed", err,
			"method", r.Method,
			"path", r.URL.Path)
	}

	render.Status(r, status)
	render.JSON(w, r, body)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: "BAD_REQUEST", Message: msg})
}
