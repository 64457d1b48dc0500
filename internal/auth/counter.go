// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"time"
)

// SharedCounterStore is a TTL-capable key-value store shared by every
// instance of the service. It backs login attempt counters and locks, reset
// request windows, the token blacklist and session generations.
//
// Implementations must make every mutating method atomic across processes:
// concurrent increments of one key are never lost, and the compound
// operations are applied entirely or not at all.
type SharedCounterStore interface {
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (value int64, found bool, err error)

	// Increment adds one to key and returns the new value. A missing key is
	// created at 1 with the given TTL; an existing key keeps its TTL.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrementWithMark is Increment that also stores mark.Value under
	// mark.Key for mark.TTL, in the same atomic step, whenever the new count
	// is at least mark.Threshold.
	IncrementWithMark(ctx context.Context, key string, ttl time.Duration, mark ThresholdMark) (int64, error)

	// Bump adds one to key and resets its TTL to ttl.
	Bump(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// GetAndExtend is Get that also resets the TTL of an existing key to
	// ttl. A missing key is not created.
	GetAndExtend(ctx context.Context, key string, ttl time.Duration) (value int64, found bool, err error)

	// Set stores value with the given TTL, replacing any previous value and TTL.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error

	// Delete removes the keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// TTL returns the remaining lifetime of key, or zero if it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// RecordInWindow records an event at now under key unless limit events
	// already fall inside the sliding window (now-window, now]. Events at or
	// before now-window are discarded. Window keys live in their own
	// namespace and are not readable with Get.
	RecordInWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (WindowResult, error)
}

// ThresholdMark is written by IncrementWithMark once the count reaches
// Threshold.
type ThresholdMark struct {
	Threshold int64
	Key       string
	Value     int64
	TTL       time.Duration
}

// WindowResult is the outcome of RecordInWindow.
type WindowResult struct {
	// Count is the number of events inside the window after the call.
	Count int64
	// Oldest is the earliest event still inside the window. It is zero when
	// the window is empty.
	Oldest time.Time
	// Recorded reports whether the new event was stored.
	Recorded bool
}

// Counter store key namespaces.
const (
	keyAttemptFailures   = "attempts:fail:"
	keyAttemptLock       = "attempts:lock:"
	keyResetRequests     = "reset:requests:"
	keyRevokedToken      = "tokens:revoked:"
	keySessionGeneration = "tokens:gen:"
)

// attemptKeys returns the failure counter and lock keys of identifier. Both
// share a hash tag so a clustered store places them in one slot.
func attemptKeys(identifier string) (failures, lock string) {
	tag := "{" + identifier + "}"
	return keyAttemptFailures + tag, keyAttemptLock + tag
}
