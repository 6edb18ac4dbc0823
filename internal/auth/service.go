package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"legalease/internal/redis"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	redisRevokedPrefix = "auth:revoked:"
	tokenIssuer        = "legalease-portal"
)

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenRevoked  = errors.New("token revoked")
)

// Service issues and validates signed visitor tokens. The token subject is
// the visitor's session id.
type Service struct {
	secret         []byte
	cache          *redis.Client
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
	csrfFormField  string
	secureCookies  bool

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> expiry
}

// NewService constructs an auth service with the supplied token lifetime.
func NewService(secret string, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		secret:         []byte(secret),
		cache:          cache,
		tokenTTL:       ttl,
		cookieName:     "legalease_session",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		csrfFormField:  "csrf_token",
		revoked:        make(map[string]time.Time),
	}
}

// SetSecureCookies marks issued cookies Secure, for deployments behind TLS.
func (s *Service) SetSecureCookies(secure bool) {
	s.secureCookies = secure
}

// NewSessionID mints the id of a fresh visitor session.
func (s *Service) NewSessionID() string {
	return uuid.NewString()
}

// IssueToken signs a token for the session.
func (s *Service) IssueToken(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   sessionID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(authToken string, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	opts = append(opts, jwt.WithIssuer(tokenIssuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := jwt.ParseWithClaims(authToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateToken verifies signature, expiry and revocation, returning the session id.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", ErrTokenRequired
	}
	claims, err := s.parse(authToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if s.isRevoked(ctx, claims.ID) {
		return "", ErrTokenRevoked
	}
	return claims.Subject, nil
}

// RevokeToken makes a token unusable until it would have expired anyway.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	claims, err := s.parse(authToken, jwt.WithoutClaimsValidation())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	s.revoked[claims.ID] = claims.ExpiresAt.Time
	s.mu.Unlock()

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, redisRevokedPrefix+claims.ID, claims.Subject, ttl); err != nil {
			return fmt.Errorf("cache revocation: %w", err)
		}
	}
	return nil
}

func (s *Service) isRevoked(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	expiry, ok := s.revoked[id]
	if ok && time.Now().After(expiry) {
		delete(s.revoked, id)
		ok = false
	}
	s.mu.Unlock()
	if ok {
		return true
	}
	if !s.cache.Enabled() {
		return false
	}
	_, err := s.cache.Get(ctx, redisRevokedPrefix+id)
	return err == nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing visitor tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// CSRFFormField is the hidden form field carrying the CSRF token on HTML posts.
func (s *Service) CSRFFormField() string {
	return s.csrfFormField
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
