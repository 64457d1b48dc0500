// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/elouarate/gallery-admin/internal/auth"
)

// T is the subset of testing.TB the constructors need.
type T interface {
	mock.TestingT
	Cleanup(func())
}

// MockCredentialStore mocks auth.CredentialStore.
type MockCredentialStore struct {
	mock.Mock
}

// NewMockCredentialStore creates a mock whose expectations are asserted on cleanup.
func NewMockCredentialStore(t T) *MockCredentialStore {
	m := &MockCredentialStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// FindByEmail implements auth.CredentialStore.
func (m *MockCredentialStore) FindByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	args := m.Called(ctx, email)
	p, _ := args.Get(0).(*auth.Principal)
	return p, args.Error(1)
}

// FindByID implements auth.CredentialStore.
func (m *MockCredentialStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.Principal, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*auth.Principal)
	return p, args.Error(1)
}

// Create implements auth.CredentialStore.
func (m *MockCredentialStore) Create(ctx context.Context, principal *auth.Principal) error {
	return m.Called(ctx, principal).Error(0)
}

// UpdatePassword implements auth.CredentialStore.
func (m *MockCredentialStore) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

// TouchLastLogin implements auth.CredentialStore.
func (m *MockCredentialStore) TouchLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

// CountActive implements auth.CredentialStore.
func (m *MockCredentialStore) CountActive(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// MockResetTokenStore mocks auth.ResetTokenStore.
type MockResetTokenStore struct {
	mock.Mock
}

// NewMockResetTokenStore creates a mock whose expectations are asserted on cleanup.
func NewMockResetTokenStore(t T) *MockResetTokenStore {
	m := &MockResetTokenStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Save implements auth.ResetTokenStore.
func (m *MockResetTokenStore) Save(ctx context.Context, token *auth.ResetToken) error {
	return m.Called(ctx, token).Error(0)
}

// FindByHash implements auth.ResetTokenStore.
func (m *MockResetTokenStore) FindByHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	args := m.Called(ctx, tokenHash)
	tok, _ := args.Get(0).(*auth.ResetToken)
	return tok, args.Error(1)
}

// Consume implements auth.ResetTokenStore.
func (m *MockResetTokenStore) Consume(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (ulid.ULID, error) {
	args := m.Called(ctx, tokenHash, now, newPasswordHash)
	id, _ := args.Get(0).(ulid.ULID)
	return id, args.Error(1)
}

// DeleteByPrincipal implements auth.ResetTokenStore.
func (m *MockResetTokenStore) DeleteByPrincipal(ctx context.Context, principalID ulid.ULID) error {
	return m.Called(ctx, principalID).Error(0)
}

// DeleteExpired implements auth.ResetTokenStore.
func (m *MockResetTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// MockSharedCounterStore mocks auth.SharedCounterStore.
type MockSharedCounterStore struct {
	mock.Mock
}

// NewMockSharedCounterStore creates a mock whose expectations are asserted on cleanup.
func NewMockSharedCounterStore(t T) *MockSharedCounterStore {
	m := &MockSharedCounterStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Get implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) Get(ctx context.Context, key string) (int64, bool, error) {
	args := m.Called(ctx, key)
	n, _ := args.Get(0).(int64)
	return n, args.Bool(1), args.Error(2)
}

// Increment implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, key, ttl)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// IncrementWithMark implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) IncrementWithMark(ctx context.Context, key string, ttl time.Duration, mark auth.ThresholdMark) (int64, error) {
	args := m.Called(ctx, key, ttl, mark)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// Bump implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) Bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, key, ttl)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// GetAndExtend implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) GetAndExtend(ctx context.Context, key string, ttl time.Duration) (int64, bool, error) {
	args := m.Called(ctx, key, ttl)
	n, _ := args.Get(0).(int64)
	return n, args.Bool(1), args.Error(2)
}

// RecordInWindow implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) RecordInWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (auth.WindowResult, error) {
	args := m.Called(ctx, key, now, window, limit)
	res, _ := args.Get(0).(auth.WindowResult)
	return res, args.Error(1)
}

// Set implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

// Delete implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) Delete(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

// TTL implements auth.SharedCounterStore.
func (m *MockSharedCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	args := m.Called(ctx, key)
	d, _ := args.Get(0).(time.Duration)
	return d, args.Error(1)
}

// MockNotificationSink mocks auth.NotificationSink.
type MockNotificationSink struct {
	mock.Mock
}

// NewMockNotificationSink creates a mock whose expectations are asserted on cleanup.
func NewMockNotificationSink(t T) *MockNotificationSink {
	m := &MockNotificationSink{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// SendPasswordResetLink implements auth.NotificationSink.
func (m *MockNotificationSink) SendPasswordResetLink(ctx context.Context, principal *auth.Principal, rawToken string, expiresAt time.Time) error {
	return m.Called(ctx, principal, rawToken, expiresAt).Error(0)
}

// SendPasswordResetConfirmation implements auth.NotificationSink.
func (m *MockNotificationSink) SendPasswordResetConfirmation(ctx context.Context, principal *auth.Principal) error {
	return m.Called(ctx, principal).Error(0)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock whose expectations are asserted on cleanup.
func NewMockPasswordHasher(t T) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	args := m.Called(ctx, password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockPasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	args := m.Called(ctx, password, hash)
	return args.Bool(0), args.Error(1)
}

// NeedsUpgrade implements auth.PasswordHasher.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

var (
	_ auth.CredentialStore    = (*MockCredentialStore)(nil)
	_ auth.ResetTokenStore    = (*MockResetTokenStore)(nil)
	_ auth.SharedCounterStore = (*MockSharedCounterStore)(nil)
	_ auth.NotificationSink   = (*MockNotificationSink)(nil)
	_ auth.PasswordHasher     = (*MockPasswordHasher)(nil)
)
