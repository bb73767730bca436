package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/earthring/chunkstream/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is stamped on every service token.
	Issuer = "chunkstream"

	// ScopeGenerate allows requesting chunk generation.
	ScopeGenerate = "chunks:generate"
	// ScopeStats allows reading streaming stats.
	ScopeStats = "stats:read"
)

var (
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("service token secret not configured")
	// ErrInsufficientScope is returned when a token lacks the required scope.
	ErrInsufficientScope = errors.New("token scope insufficient")
)

// ServiceClaims are the claims carried by machine-to-machine tokens.
type ServiceClaims struct {
	jwt.RegisteredClaims

	Scopes []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *ServiceClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ServiceTokens issues and validates HS256 service tokens. The streaming
// client uses it as its generation.TokenSource; the generation server uses
// it to validate incoming requests.
type ServiceTokens struct {
	secret  []byte
	ttl     time.Duration
	subject string
	scopes  []string
	now     func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewServiceTokens creates a token service. subject names the caller and
// scopes are granted to every token it issues.
func NewServiceTokens(cfg config.ProceduralConfig, subject string, scopes ...string) *ServiceTokens {
	if len(scopes) == 0 {
		scopes = []string{ScopeGenerate}
	}
	return &ServiceTokens{
		secret:  []byte(cfg.TokenSecret),
		ttl:     cfg.TokenTTL,
		subject: subject,
		scopes:  scopes,
		now:     time.Now,
	}
}

// Issue signs a new token.
func (s *ServiceTokens) Issue() (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	now := s.now()
	tokenID, err := generateTokenID()
	if err != nil {
		return "", fmt.Errorf("failed to generate token ID: %w", err)
	}

	claims := &ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   s.subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        tokenID,
		},
		Scopes: s.scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Token returns a cached token, issuing a new one once the cached token is
// within a tenth of its lifetime of expiring.
func (s *ServiceTokens) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(s.ttl/10).Before(s.expires) {
		return s.cached, nil
	}

	token, err := s.Issue()
	if err != nil {
		return "", err
	}
	s.cached = token
	s.expires = now.Add(s.ttl)
	return token, nil
}

// Validate parses a token and checks its signature, issuer and expiry.
func (s *ServiceTokens) Validate(tokenString string) (*ServiceClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// TTL returns the lifetime of issued tokens.
func (s *ServiceTokens) TTL() time.Duration {
	return s.ttl
}

func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
