// Package auth resolves presented credentials to caller identities and
// decides whether an identity may perform a requested action.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/security"
)

// VerifierConfig carries the signing and bootstrap secrets.
type VerifierConfig struct {
	JWTSecret        string
	JWTRefreshSecret string
	InitToken        string
}

// Verifier authenticates API keys, session tokens, and passwords
// against the user store.
type Verifier struct {
	db  *gorm.DB
	cfg VerifierConfig
}

// NewVerifier creates a verifier over the given connection.
func NewVerifier(db *gorm.DB, cfg VerifierConfig) *Verifier {
	return &Verifier{db: db, cfg: cfg}
}

// VerifyAPIKey resolves a presented API key to its owning user. The key
// is hashed with the same one-way function used at creation and looked
// up by digest, so no plaintext comparison ever happens.
func (v *Verifier) VerifyAPIKey(ctx context.Context, presented string) (*models.User, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, apierror.Unauthenticated("missing api key")
	}

	digest := security.HashAPIKey(presented)
	var user models.User
	errFind := v.db.WithContext(ctx).Where("api_key_hash = ?", digest).Take(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apierror.Unauthenticated("invalid api key")
	}
	if errFind != nil {
		return nil, fmt.Errorf("auth: lookup api key: %w", errFind)
	}
	return &user, nil
}

// VerifySessionToken validates a session token of the given kind and
// returns its claims. An expired token and a token whose signature does
// not verify are rejected with distinct statuses.
func (v *Verifier) VerifySessionToken(token string, kind security.TokenKind) (*security.SessionClaims, error) {
	secret := v.cfg.JWTSecret
	if kind == security.TokenKindRefresh {
		secret = v.cfg.JWTRefreshSecret
	}
	claims, errParse := security.ParseSessionToken(secret, token)
	if errors.Is(errParse, security.ErrExpiredToken) {
		return nil, apierror.Unauthenticated("token expired")
	}
	if errParse != nil {
		return nil, apierror.Forbidden("invalid token")
	}
	return claims, nil
}

// VerifyPassword checks a user's password and, when the account has
// two-factor enabled, the accompanying one-time code.
func (v *Verifier) VerifyPassword(ctx context.Context, userID, password, otpCode string) (*models.User, error) {
	var user models.User
	errFind := v.db.WithContext(ctx).Where("user_id = ?", userID).Take(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apierror.Unauthenticated("invalid credentials")
	}
	if errFind != nil {
		return nil, fmt.Errorf("auth: lookup user: %w", errFind)
	}
	if user.Password == "" || !security.CheckPassword(user.Password, password) {
		return nil, apierror.Unauthenticated("invalid credentials")
	}
	if user.TOTPSecret != "" {
		if !security.ValidateTOTP(otpCode, user.TOTPSecret) {
			return nil, apierror.Unauthenticated("invalid one-time code")
		}
	}
	return &user, nil
}

// VerifyInitToken gates the one-time bootstrap action that creates the
// owner account.
func (v *Verifier) VerifyInitToken(presented string) bool {
	if strings.TrimSpace(v.cfg.InitToken) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(v.cfg.InitToken)) == 1
}
