package token

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/domain"
)

// Claims represents the JWT claims carried by issued tokens. The jti
// registered claim is the revocation identifier.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Options configures token issuance and verification
type Options struct {
	Secret          string
	Audience        string
	Issuer          string
	Expiry          time.Duration
	VerificationTTL time.Duration
	CacheSize       int
}

// BlacklistStore is where revocation records live. Satisfied by
// *cache.Store; records expire on their own, aligned with the token
// lifetime they block.
type BlacklistStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value interface{}, ttlSeconds int) bool
}

// Service issues HMAC-SHA256 signed tokens, verifies them with a
// local verification cache and supports revocation by jti.
type Service struct {
	opts      Options
	verified  *verifyCache
	blacklist BlacklistStore
	logger    *logrus.Logger
	now       func() time.Time

	cryptoVerifications int64
}

// NewService creates a token service
func NewService(opts Options, blacklist BlacklistStore, logger *logrus.Logger) *Service {
	if opts.Expiry <= 0 {
		opts.Expiry = 24 * time.Hour
	}
	if opts.VerificationTTL <= 0 {
		opts.VerificationTTL = 1800 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}

	return &Service{
		opts:      opts,
		verified:  newVerifyCache(opts.CacheSize, 5*time.Minute),
		blacklist: blacklist,
		logger:    logger,
		now:       time.Now,
	}
}

// Issue signs a new token for the user with a unique revocation
// identifier and the configured audience, issuer and expiry.
func (s *Service) Issue(userID, role string) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Audience:  jwt.ClaimStrings{s.opts.Audience},
			Issuer:    s.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.Expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.opts.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return signed, nil
}

// Verify checks the token and returns its claims. Results of
// successful verifications are cached by the raw token string, so a
// repeated Verify skips the cryptographic check. Every failure mode
// collapses to ErrTokenInvalid.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	if claims, ok := s.verified.get(tokenString); ok {
		return claims, nil
	}

	atomic.AddInt64(&s.cryptoVerifications, 1)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.opts.Secret), nil
	})
	if err != nil || !token.Valid {
		s.logger.Debugf("Token verification failed: %v", err)
		return nil, domain.ErrTokenInvalid
	}
	if !claims.VerifyAudience(s.opts.Audience, true) {
		s.logger.Debug("Token audience mismatch")
		return nil, domain.ErrTokenInvalid
	}
	if !claims.VerifyIssuer(s.opts.Issuer, true) {
		s.logger.Debug("Token issuer mismatch")
		return nil, domain.ErrTokenInvalid
	}

	// Never cache a verification past the token's own expiry
	ttl := s.opts.VerificationTTL
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Sub(s.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		s.verified.set(tokenString, claims, ttl)
	}

	return claims, nil
}

// IsBlacklisted reports whether the token's revocation identifier has
// a blacklist record. Tokens that cannot be decoded or carry no jti
// are reported as not blacklisted (fail-open).
func (s *Service) IsBlacklisted(ctx context.Context, tokenString string) bool {
	jti := s.revocationID(tokenString)
	if jti == "" {
		return false
	}
	_, found := s.blacklist.Get(ctx, blacklistKey(jti))
	return found
}

// Blacklist stores a revocation record for the token's jti with a TTL
// equal to the token's remaining lifetime (24h when the token carries
// no expiry), so the record never outlives the token it blocks.
func (s *Service) Blacklist(ctx context.Context, tokenString string) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		s.logger.Debugf("Cannot decode token for blacklisting: %v", err)
		return false
	}
	if claims.ID == "" {
		s.logger.Debug("Token carries no revocation identifier")
		return false
	}

	remaining := 24 * time.Hour
	if claims.ExpiresAt != nil {
		remaining = claims.ExpiresAt.Sub(s.now())
	}
	if remaining <= 0 {
		// Already expired, nothing to block
		return true
	}

	ttlSeconds := int(remaining / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	return s.blacklist.Set(ctx, blacklistKey(claims.ID), "1", ttlSeconds)
}

// CryptoVerifications returns how many verifications actually ran the
// cryptographic check, i.e. were not served from the cache.
func (s *Service) CryptoVerifications() int64 {
	return atomic.LoadInt64(&s.cryptoVerifications)
}

// Close stops the verification cache's cleanup goroutine
func (s *Service) Close() {
	s.verified.stop()
}

// revocationID extracts the jti without verifying the signature
func (s *Service) revocationID(tokenString string) string {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	return claims.ID
}

func blacklistKey(jti string) string {
	return fmt.Sprintf("auth:blacklist:%s", jti)
}
