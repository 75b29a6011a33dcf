// Package auth authenticates API clients: API-key verification against the
// configured client registry, and short-lived JWT session tokens so callers
// do not have to present the raw key on every request.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Predefined errors for token operations.
var (
	ErrTokenExpired  = errors.New("token has expired")
	ErrTokenInvalid  = errors.New("token is invalid")
	ErrSigningMethod = errors.New("unexpected signing method")
)

// ClientClaims are the claims carried by a client session token.
type ClientClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// JWTService issues and validates client session tokens.
type JWTService struct {
	signingKey []byte
	ttl        time.Duration
}

// NewJWTService creates a JWTService. A non-positive ttl defaults to one
// hour.
func NewJWTService(signingKey string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTService{signingKey: []byte(signingKey), ttl: ttl}
}

// Generate creates a signed session token for the given client.
func (s *JWTService) Generate(clientID string) (string, error) {
	now := time.Now()
	claims := ClientClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses and validates a session token, returning its claims.
func (s *JWTService) Validate(tokenString string) (*ClientClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ClientClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSigningMethod
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, ErrSigningMethod) {
			return nil, ErrSigningMethod
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*ClientClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
