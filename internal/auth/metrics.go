// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for authentication metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// LoginAttempts counts login attempts by outcome kind.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gallery_auth_login_attempts_total",
		Help: "Total number of login attempts by result",
	},
	[]string{"result"},
)

// Lockouts counts identifiers that crossed the failure threshold.
var Lockouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gallery_auth_lockouts_total",
		Help: "Total number of lockouts triggered by repeated login failures",
	},
)

// TokenOperations counts token issuance, verification failures and revocations.
var TokenOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gallery_auth_token_operations_total",
		Help: "Total number of token operations by operation and result",
	},
	[]string{"operation", "result"},
)

// ResetRequests counts password reset operations by stage and result.
var ResetRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gallery_auth_password_resets_total",
		Help: "Total number of password reset operations by stage and result",
	},
	[]string{"stage", "result"},
)

// RegisterMetrics registers auth metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(Lockouts)
	reg.MustRegister(TokenOperations)
	reg.MustRegister(ResetRequests)
}

func resultLabel(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	return string(KindOf(err))
}
