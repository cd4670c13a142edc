package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for a user token that fails verification.
var ErrInvalidToken = errors.New("invalid user token")

// RoleAdmin grants the administrative device transitions.
const RoleAdmin = "admin"

// UserClaims is the token issued by the external auth service.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"uid"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
}

// IsAdmin reports whether the token carries the admin role.
func (c *UserClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// ParseUserToken verifies an HS256 token and returns its claims.
func ParseUserToken(tokenString, secret string) (*UserClaims, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}
	return claims, nil
}

// IssueUserToken signs a token the way the external auth service does. It
// backs the development token command and tests.
func IssueUserToken(userID int64, name, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID: userID,
		Name:   name,
		Role:   role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing user token: %w", err)
	}
	return signed, nil
}
