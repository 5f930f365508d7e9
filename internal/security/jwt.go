package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amirhdaghestani/openai-api/internal/models"
)

// Token validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails signature validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// TokenKind selects the signing key and lifetime of a session token.
type TokenKind string

const (
	// TokenKindAccess is the short-lived per-request token.
	TokenKindAccess TokenKind = "access"
	// TokenKindRefresh is the longer-lived token used to mint new access tokens.
	TokenKindRefresh TokenKind = "refresh"
)

// SessionClaims defines the JWT claims embedded in session tokens.
// Identity fields are carried as typed values in a fixed schema; nothing
// in a presented token is ever re-evaluated dynamically.
type SessionClaims struct {
	UserID      string               `json:"user_id"`
	Name        string               `json:"name"`
	Role        string               `json:"role"`
	Permissions models.PermissionSet `json:"permissions"`
	jwt.RegisteredClaims
}

// GenerateSessionToken signs a session token for the given user.
func GenerateSessionToken(secret string, user *models.User, expiry time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		UserID:      user.UserID,
		Name:        user.Name,
		Role:        user.Role,
		Permissions: user.PermissionSet(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseSessionToken validates a session token and returns its claims.
// An expired token yields ErrExpiredToken even when the signature is
// valid; every other failure yields ErrInvalidToken.
func ParseSessionToken(secret string, tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
