// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/internal/counter"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testTokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Issuer:    "gallery-admin-test",
		Algorithm: "HS256",
		Secret:    testSecret,
	}
}

func newTestTokenService(t *testing.T, counters auth.SharedCounterStore, clock *fakeClock) *auth.TokenService {
	t.Helper()
	svc, err := auth.NewTokenService(testTokenConfig(), counters, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)
	return svc
}

// principalStore is an in-memory CredentialStore.
type principalStore struct {
	mu      sync.Mutex
	byID    map[ulid.ULID]auth.Principal
	touched int
	err     error
}

func newPrincipalStore() *principalStore {
	return &principalStore{byID: make(map[ulid.ULID]auth.Principal)}
}

func (s *principalStore) put(p *auth.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = *p
}

func (s *principalStore) get(id ulid.ULID) auth.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

func (s *principalStore) FindByEmail(_ context.Context, email string) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, p := range s.byID {
		if strings.EqualFold(p.Email, email) {
			cp := p
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *principalStore) FindByID(_ context.Context, id ulid.ULID) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

func (s *principalStore) Create(_ context.Context, p *auth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Email, p.Email) {
			return auth.ErrEmailTaken
		}
	}
	s.byID[p.ID] = *p
	return nil
}

func (s *principalStore) UpdatePassword(_ context.Context, id ulid.ULID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.PasswordHash = hash
	s.byID[id] = p
	return nil
}

func (s *principalStore) TouchLastLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.LastLogin = &at
	s.byID[id] = p
	s.touched++
	return nil
}

func (s *principalStore) CountActive(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.byID {
		if p.IsActive {
			n++
		}
	}
	return n, nil
}

// resetStore is an in-memory ResetTokenStore that updates passwords in a
// principalStore on Consume.
type resetStore struct {
	mu          sync.Mutex
	byPrincipal map[ulid.ULID]auth.ResetToken
	principals  *principalStore
}

func newResetStore(principals *principalStore) *resetStore {
	return &resetStore{byPrincipal: make(map[ulid.ULID]auth.ResetToken), principals: principals}
}

func (s *resetStore) Save(_ context.Context, token *auth.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPrincipal[token.PrincipalID] = *token
	return nil
}

func (s *resetStore) FindByHash(_ context.Context, hash string) (*auth.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.byPrincipal {
		if tok.TokenHash == hash {
			cp := tok
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *resetStore) Consume(ctx context.Context, hash string, now time.Time, newHash string) (ulid.ULID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tok := range s.byPrincipal {
		if tok.TokenHash == hash && !tok.IsExpiredAt(now) {
			delete(s.byPrincipal, id)
			if err := s.principals.UpdatePassword(ctx, id, newHash); err != nil {
				return ulid.ULID{}, err
			}
			return id, nil
		}
	}
	return ulid.ULID{}, auth.ErrNotFound
}

func (s *resetStore) DeleteByPrincipal(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPrincipal, id)
	return nil
}

func (s *resetStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tok := range s.byPrincipal {
		if tok.IsExpiredAt(now) {
			delete(s.byPrincipal, id)
			n++
		}
	}
	return n, nil
}

func (s *resetStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPrincipal)
}

type sentLink struct {
	principalID ulid.ULID
	token       string
	expiresAt   time.Time
}

// recordingSink captures notifications and the password hashes it was shown.
type recordingSink struct {
	mu            sync.Mutex
	links         []sentLink
	confirmations []ulid.ULID
	seenHashes    []string
	err           error
}

func (s *recordingSink) SendPasswordResetLink(_ context.Context, p *auth.Principal, raw string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, sentLink{principalID: p.ID, token: raw, expiresAt: expiresAt})
	s.seenHashes = append(s.seenHashes, p.PasswordHash)
	return s.err
}

func (s *recordingSink) SendPasswordResetConfirmation(_ context.Context, p *auth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations = append(s.confirmations, p.ID)
	s.seenHashes = append(s.seenHashes, p.PasswordHash)
	return s.err
}

func (s *recordingSink) hashes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seenHashes...)
}

func (s *recordingSink) lastLink(t *testing.T) sentLink {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.links, "no reset link sent")
	return s.links[len(s.links)-1]
}

// harness wires an Orchestrator over in-memory backends sharing one clock.
type harness struct {
	clock       *fakeClock
	counters    *counter.MemoryStore
	principals  *principalStore
	resets      *resetStore
	sink        *recordingSink
	hasher      *auth.Argon2idHasher
	tokens      *auth.TokenService
	attempts    *auth.AttemptGuard
	resetMgr    *auth.ResetTokenManager
	orch        *auth.Orchestrator
	logs        *bytes.Buffer
	logger      *slog.Logger
	bootstrap   auth.BootstrapConfig
	credentials auth.CredentialStore
	wrap        func(auth.SharedCounterStore) auth.SharedCounterStore
}

type harnessOption func(*harness)

func withBootstrap(cfg auth.BootstrapConfig) harnessOption {
	return func(h *harness) { h.bootstrap = cfg }
}

func withCredentials(store auth.CredentialStore) harnessOption {
	return func(h *harness) { h.credentials = store }
}

// withCounterWrapper routes every component through wrap(counters).
func withCounterWrapper(wrap func(auth.SharedCounterStore) auth.SharedCounterStore) harnessOption {
	return func(h *harness) { h.wrap = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		clock:  newFakeClock(),
		sink:   &recordingSink{},
		hasher: newTestHasher(),
		logs:   &bytes.Buffer{},
	}
	h.logger = slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.counters = counter.NewMemoryStore(counter.WithClock(h.clock.Now))
	h.principals = newPrincipalStore()
	h.resets = newResetStore(h.principals)
	h.credentials = h.principals
	for _, opt := range opts {
		opt(h)
	}

	var counters auth.SharedCounterStore = h.counters
	if h.wrap != nil {
		counters = h.wrap(counters)
	}

	h.tokens = newTestTokenService(t, counters, h.clock)

	var err error
	h.attempts, err = auth.NewAttemptGuard(counters, auth.DefaultAttemptConfig(), h.clock.Now, h.logger)
	require.NoError(t, err)

	policy := auth.NewPasswordPolicy()
	h.resetMgr, err = auth.NewResetTokenManager(auth.ResetDeps{
		Credentials: h.credentials,
		Tokens:      h.resets,
		Counters:    counters,
		Policy:      policy,
		Hasher:      h.hasher,
		Sessions:    h.tokens,
		Now:         h.clock.Now,
		Logger:      h.logger,
	}, auth.DefaultResetConfig())
	require.NoError(t, err)

	h.orch, err = auth.NewOrchestrator(auth.OrchestratorDeps{
		Credentials: h.credentials,
		Hasher:      h.hasher,
		Policy:      policy,
		Tokens:      h.tokens,
		Attempts:    h.attempts,
		Resets:      h.resetMgr,
		Notifier:    h.sink,
		Bootstrap:   h.bootstrap,
		Now:         h.clock.Now,
		Logger:      h.logger,
	})
	require.NoError(t, err)
	return h
}

// addPrincipal stores an active principal with the given password.
func (h *harness) addPrincipal(t *testing.T, email, password string, role auth.Role) *auth.Principal {
	t.Helper()
	hash, err := h.hasher.Hash(context.Background(), password)
	require.NoError(t, err)
	p, err := auth.NewPrincipal(email, hash, role)
	require.NoError(t, err)
	h.principals.put(p)
	return p
}
