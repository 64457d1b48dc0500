// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Token lifetime bounds.
const (
	MinAccessTTL  = 15 * time.Minute
	MaxAccessTTL  = 2 * time.Hour
	MinRefreshTTL = 7 * 24 * time.Hour
	MaxRefreshTTL = 30 * 24 * time.Hour

	DefaultUserAccessTTL  = time.Hour
	DefaultAdminAccessTTL = 15 * time.Minute
	DefaultRefreshTTL     = 7 * 24 * time.Hour

	// MinSecretLength is the shortest accepted HMAC signing secret in bytes.
	MinSecretLength = 32
)

// Claims is the payload of every issued token.
// Subject holds the principal ID and ID (jti) a ULID. Generation is the
// principal's session generation at issuance; RevokeAll advances it.
type Claims struct {
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	Type       TokenType `json:"type"`
	Generation int64     `json:"gen,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID parses the subject claim.
func (c *Claims) PrincipalID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(string(KindTokenInvalid)).With("claim", "sub").Wrap(err)
	}
	return id, nil
}

// TokenPair is the result of a successful issuance.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenConfig configures signing and lifetimes.
type TokenConfig struct {
	Issuer    string
	Algorithm string // HS256, HS384 or HS512
	Secret    []byte
	// AccessTTL is the access token lifetime per role. Missing roles use
	// DefaultUserAccessTTL or DefaultAdminAccessTTL.
	AccessTTL  map[Role]time.Duration
	RefreshTTL time.Duration
}

// Validate checks signing material and lifetime bounds.
func (c TokenConfig) Validate() error {
	if c.Issuer == "" {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("issuer is required")
	}
	if _, err := hmacMethod(c.Algorithm); err != nil {
		return err
	}
	if len(c.Secret) < MinSecretLength {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("min", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	for role, ttl := range c.AccessTTL {
		if ttl < MinAccessTTL || ttl > MaxAccessTTL {
			return oops.Code("TOKEN_CONFIG_INVALID").
				With("role", string(role)).
				With("ttl", ttl.String()).
				Errorf("access token lifetime must be between %s and %s", MinAccessTTL, MaxAccessTTL)
		}
	}
	if c.RefreshTTL != 0 && (c.RefreshTTL < MinRefreshTTL || c.RefreshTTL > MaxRefreshTTL) {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("ttl", c.RefreshTTL.String()).
			Errorf("refresh token lifetime must be between %s and %s", MinRefreshTTL, MaxRefreshTTL)
	}
	return nil
}

func hmacMethod(alg string) (*jwt.SigningMethodHMAC, error) {
	switch alg {
	case "HS256", "":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("algorithm", alg).
			Errorf("unsupported signing algorithm %q", alg)
	}
}

// TokenService issues, verifies and revokes signed tokens. Revocation state
// lives in the shared counter store so every instance honours it.
type TokenService struct {
	cfg      TokenConfig
	method   *jwt.SigningMethodHMAC
	counters SharedCounterStore
	now      func() time.Time
	logger   *slog.Logger
}

// TokenServiceOption customizes a TokenService.
type TokenServiceOption func(*TokenService)

// WithTokenClock overrides the time source.
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) { s.now = now }
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *slog.Logger) TokenServiceOption {
	return func(s *TokenService) { s.logger = logger }
}

// NewTokenService validates cfg and creates a TokenService.
func NewTokenService(cfg TokenConfig, counters SharedCounterStore, opts ...TokenServiceOption) (*TokenService, error) {
	if counters == nil {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("counter store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	method, _ := hmacMethod(cfg.Algorithm) //nolint:errcheck // validated above
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	s := &TokenService{
		cfg:      cfg,
		method:   method,
		counters: counters,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *TokenService) accessTTL(role Role) time.Duration {
	if ttl, ok := s.cfg.AccessTTL[role]; ok {
		return ttl
	}
	if role == RoleAdmin {
		return DefaultAdminAccessTTL
	}
	return DefaultUserAccessTTL
}

// subject is the identity a token pair is issued for.
type subject struct {
	id    ulid.ULID
	email string
	role  Role
}

// Issue creates a fresh access/refresh pair for the principal.
func (s *TokenService) Issue(ctx context.Context, p *Principal) (*TokenPair, error) {
	return s.issue(ctx, subject{id: p.ID, email: p.Email, role: p.Role})
}

// generationTTL outlives every token that can carry the generation.
func (s *TokenService) generationTTL() time.Duration {
	return max(s.cfg.RefreshTTL, MaxAccessTTL)
}

func (s *TokenService) issue(ctx context.Context, sub subject) (*TokenPair, error) {
	now := s.now()

	// Extending the generation on every issuance keeps it alive for as long
	// as any token carrying it.
	gen, _, err := s.counters.GetAndExtend(ctx, keySessionGeneration+sub.id.String(), s.generationTTL())
	if err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "read session generation").
			With("principal_id", sub.id.String()).
			Wrap(err)
	}

	access, accessExp, err := s.sign(sub, gen, TokenTypeAccess, now, s.accessTTL(sub.role))
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.sign(sub, gen, TokenTypeRefresh, now, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	TokenOperations.WithLabelValues("issue", OutcomeSuccess).Inc()
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) sign(sub subject, gen int64, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	jti, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").With("operation", "generate jti").Wrap(err)
	}

	expiresAt := now.Add(ttl).Truncate(jwt.TimePrecision)
	claims := Claims{
		Email:      sub.email,
		Role:       sub.role,
		Type:       typ,
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   sub.id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti.String(),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "sign token").
			With("type", string(typ)).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Verify parses and checks a token: signature, issuer, expiry, type,
// blacklist and session generation, in that order.
func (s *TokenService) Verify(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	claims, err := s.verify(ctx, token, expected)
	if err != nil {
		TokenOperations.WithLabelValues("verify", resultLabel(err)).Inc()
	}
	return claims, err
}

func (s *TokenService) verify(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.cfg.Secret, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !parsed.Valid {
		return nil, newKindError(KindTokenInvalid)
	}

	if claims.Type != expected {
		return nil, oops.Code(string(KindTokenInvalid)).
			With("expected_type", string(expected)).
			With("actual_type", string(claims.Type)).
			Wrap(&Error{Kind: KindTokenInvalid})
	}
	if !claims.Role.Valid() {
		return nil, oops.Code(string(KindTokenInvalid)).With("claim", "role").Wrap(&Error{Kind: KindTokenInvalid})
	}
	if _, err := claims.PrincipalID(); err != nil {
		return nil, oops.Code(string(KindTokenInvalid)).Wrap(&Error{Kind: KindTokenInvalid})
	}
	if _, err := ulid.Parse(claims.ID); err != nil {
		return nil, oops.Code(string(KindTokenInvalid)).With("claim", "jti").Wrap(&Error{Kind: KindTokenInvalid})
	}

	_, revoked, err := s.counters.Get(ctx, keyRevokedToken+claims.ID)
	if err != nil {
		return nil, oops.Code("TOKEN_VERIFY_FAILED").With("operation", "check blacklist").Wrap(err)
	}
	if revoked {
		return nil, oops.Code(string(KindTokenRevoked)).With("jti", claims.ID).Wrap(&Error{Kind: KindTokenRevoked})
	}

	gen, found, err := s.counters.Get(ctx, keySessionGeneration+claims.Subject)
	if err != nil {
		return nil, oops.Code("TOKEN_VERIFY_FAILED").With("operation", "check session generation").Wrap(err)
	}
	if found && claims.Generation < gen {
		return nil, oops.Code(string(KindTokenRevoked)).
			With("jti", claims.ID).
			With("reason", "sessions revoked").
			Wrap(&Error{Kind: KindTokenRevoked})
	}

	return claims, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return oops.Code(string(KindTokenExpired)).Wrap(&Error{Kind: KindTokenExpired})
	}
	return oops.Code(string(KindTokenInvalid)).With("cause", err.Error()).Wrap(&Error{Kind: KindTokenInvalid})
}

// Revoke blacklists jti for ttl, which should equal the token's remaining
// lifetime. A non-positive ttl means the token already expired and nothing
// is stored.
func (s *TokenService) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.counters.Set(ctx, keyRevokedToken+jti, 1, ttl); err != nil {
		return oops.Code("TOKEN_REVOKE_FAILED").With("jti", jti).Wrap(err)
	}
	TokenOperations.WithLabelValues("revoke", OutcomeSuccess).Inc()
	return nil
}

// RevokeClaims blacklists a verified token until its natural expiry.
func (s *TokenService) RevokeClaims(ctx context.Context, claims *Claims) error {
	return s.Revoke(ctx, claims.ID, s.remaining(claims))
}

func (s *TokenService) remaining(claims *Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Sub(s.now())
}

// Redeem verifies a refresh token and consumes it. Exactly one concurrent
// caller can redeem a given token; every other caller gets TokenRevoked.
func (s *TokenService) Redeem(ctx context.Context, refreshToken string) (*Claims, error) {
	claims, err := s.Verify(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	remaining := s.remaining(claims)
	if remaining <= 0 {
		TokenOperations.WithLabelValues("redeem", string(KindTokenExpired)).Inc()
		return nil, oops.Code(string(KindTokenExpired)).With("jti", claims.ID).Wrap(&Error{Kind: KindTokenExpired})
	}

	n, err := s.counters.Increment(ctx, keyRevokedToken+claims.ID, remaining)
	if err != nil {
		return nil, oops.Code("TOKEN_REDEEM_FAILED").With("jti", claims.ID).Wrap(err)
	}
	if n > 1 {
		s.logger.WarnContext(ctx, "refresh token reuse detected",
			"jti", claims.ID,
			"principal_id", claims.Subject,
		)
		TokenOperations.WithLabelValues("redeem", string(KindTokenRevoked)).Inc()
		return nil, oops.Code(string(KindTokenRevoked)).With("jti", claims.ID).Wrap(&Error{Kind: KindTokenRevoked})
	}

	TokenOperations.WithLabelValues("redeem", OutcomeSuccess).Inc()
	return claims, nil
}

// RotateRefresh redeems the old refresh token and issues a new pair for the
// same subject.
func (s *TokenService) RotateRefresh(ctx context.Context, oldRefreshToken string) (*TokenPair, error) {
	claims, err := s.Redeem(ctx, oldRefreshToken)
	if err != nil {
		return nil, err
	}
	id, err := claims.PrincipalID()
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, subject{id: id, email: claims.Email, role: claims.Role})
}

// RevokeAll invalidates every token issued to the principal so far by
// advancing its session generation. Tokens issued afterwards carry the new
// generation and stay valid, whatever the clocks of the issuing instances say.
func (s *TokenService) RevokeAll(ctx context.Context, principalID ulid.ULID) error {
	if _, err := s.counters.Bump(ctx, keySessionGeneration+principalID.String(), s.generationTTL()); err != nil {
		return oops.Code("TOKEN_REVOKE_ALL_FAILED").With("principal_id", principalID.String()).Wrap(err)
	}
	TokenOperations.WithLabelValues("revoke_all", OutcomeSuccess).Inc()
	return nil
}
