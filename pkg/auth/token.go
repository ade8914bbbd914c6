// Package auth issues and verifies the session tokens the frontend accepts.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is used when no issuer is configured.
const DefaultIssuer = "health-dashboard"

var (
	// ErrEmptySecret is returned when no signing secret is configured.
	ErrEmptySecret = errors.New("signing secret cannot be empty")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims is the payload of a session token.
type Claims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for userID valid for ttl.
func NewToken(secret, issuer string, userID uint, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if userID == 0 {
		return "", errors.New("user id cannot be zero")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}

	now := time.Now().UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies tokenString and returns its claims. Only HS256 tokens
// from issuer are accepted.
func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
