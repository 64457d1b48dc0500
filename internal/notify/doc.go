// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

// Package notify delivers password reset notifications.
//
// EmailSink sends mail over SMTP, LogSink records that a notification would
// have been sent, and Async decouples any sink from the request path so a
// slow or failing mail server never delays or fails a reset flow.
package notify
