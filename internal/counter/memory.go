// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package counter

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/elouarate/gallery-admin/internal/auth"
)

// purgeEvery is the number of writes between sweeps of expired entries.
const purgeEvery = 256

var _ auth.SharedCounterStore = (*MemoryStore)(nil)

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// memoryWindow holds the event times of one sliding window, oldest first.
type memoryWindow struct {
	events    []time.Time
	expiresAt time.Time
}

// MemoryStore is an in-process SharedCounterStore with lazy expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	windows map[string]*memoryWindow
	writes  int
	now     func() time.Time
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]memoryEntry),
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lookupLocked returns the live entry for key, dropping it if expired.
func (m *MemoryStore) lookupLocked(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) noteWriteLocked() {
	m.writes++
	if m.writes%purgeEvery != 0 {
		return
	}
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	for k, w := range m.windows {
		if !now.Before(w.expiresAt) {
			delete(m.windows, k)
		}
	}
}

// Get returns the value of key and whether it exists.
func (m *MemoryStore) Get(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key)
	return e.value, ok, nil
}

// Increment adds one to key, creating it with ttl if missing.
func (m *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key)
	if !ok {
		e = memoryEntry{expiresAt: m.now().Add(ttl)}
	}
	e.value++
	m.entries[key] = e
	m.noteWriteLocked()
	return e.value, nil
}

// IncrementWithMark increments key and writes mark once the count reaches
// mark.Threshold. Both writes happen under one lock.
func (m *MemoryStore) IncrementWithMark(_ context.Context, key string, ttl time.Duration, mark auth.ThresholdMark) (int64, error) {
	if ttl <= 0 || mark.TTL <= 0 {
		return 0, oops.Code("COUNTER_INVALID_TTL").With("key", key).With("mark_key", mark.Key).Errorf("ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.lookupLocked(key)
	if !ok {
		e = memoryEntry{expiresAt: now.Add(ttl)}
	}
	e.value++
	m.entries[key] = e
	if e.value >= mark.Threshold {
		m.entries[mark.Key] = memoryEntry{value: mark.Value, expiresAt: now.Add(mark.TTL)}
	}
	m.noteWriteLocked()
	return e.value, nil
}

// Bump adds one to key and restarts its TTL.
func (m *MemoryStore) Bump(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, _ := m.lookupLocked(key)
	e.value++
	e.expiresAt = m.now().Add(ttl)
	m.entries[key] = e
	m.noteWriteLocked()
	return e.value, nil
}

// GetAndExtend returns the value of key and restarts its TTL if it exists.
func (m *MemoryStore) GetAndExtend(_ context.Context, key string, ttl time.Duration) (int64, bool, error) {
	if ttl <= 0 {
		return 0, false, oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key)
	if !ok {
		return 0, false, nil
	}
	e.expiresAt = m.now().Add(ttl)
	m.entries[key] = e
	return e.value, true, nil
}

// Set stores value with ttl.
func (m *MemoryStore) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	if ttl <= 0 {
		return oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	m.noteWriteLocked()
	return nil
}

// Delete removes the keys.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
		delete(m.windows, k)
	}
	return nil
}

// TTL returns the remaining lifetime of key.
func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key)
	if !ok {
		return 0, nil
	}
	return e.expiresAt.Sub(m.now()), nil
}

// RecordInWindow records an event at now unless limit events already fall
// inside (now-window, now].
func (m *MemoryStore) RecordInWindow(_ context.Context, key string, now time.Time, window time.Duration, limit int64) (auth.WindowResult, error) {
	if window <= 0 {
		return auth.WindowResult{}, oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("window must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		w = &memoryWindow{}
		m.windows[key] = w
	}

	cutoff := now.Add(-window)
	live := w.events[:0]
	for _, at := range w.events {
		if at.After(cutoff) {
			live = append(live, at)
		}
	}
	w.events = live

	recorded := int64(len(w.events)) < limit
	if recorded {
		w.events = append(w.events, now)
		w.expiresAt = m.now().Add(window)
		m.noteWriteLocked()
	}

	if len(w.events) == 0 {
		delete(m.windows, key)
		return auth.WindowResult{}, nil
	}

	oldest := w.events[0]
	for _, at := range w.events[1:] {
		if at.Before(oldest) {
			oldest = at
		}
	}
	return auth.WindowResult{Count: int64(len(w.events)), Oldest: oldest, Recorded: recorded}, nil
}

// Len returns the number of stored entries and windows, including expired
// ones not yet purged.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries) + len(m.windows)
}
