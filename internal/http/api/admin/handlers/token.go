// Package handlers implements the administrative API: session tokens,
// bootstrap, user management, and usage statistics.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/config"
	"github.com/amirhdaghestani/openai-api/internal/security"
)

// TokenHandler issues and refreshes session tokens.
type TokenHandler struct {
	db       *gorm.DB
	verifier *auth.Verifier
	cfg      config.AuthConfig
}

// NewTokenHandler constructs a TokenHandler.
func NewTokenHandler(db *gorm.DB, verifier *auth.Verifier, cfg config.AuthConfig) *TokenHandler {
	return &TokenHandler{db: db, verifier: verifier, cfg: cfg}
}

// writeAPIError maps an error to the admin JSON envelope.
func writeAPIError(c *gin.Context, err error) {
	if apiErr, ok := apierror.FromError(err); ok {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

type issueTokenRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
	OTPCode  string `json:"otp_code"`
}

// Issue verifies a password and mints an access/refresh token pair.
func (h *TokenHandler) Issue(c *gin.Context) {
	var body issueTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.UserID) == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing credentials"})
		return
	}

	user, errVerify := h.verifier.VerifyPassword(c.Request.Context(), body.UserID, body.Password, body.OTPCode)
	if errVerify != nil {
		writeAPIError(c, errVerify)
		return
	}

	access, errAccess := security.GenerateSessionToken(h.cfg.JWTSecret, user, h.cfg.AccessTokenExpiry())
	if errAccess != nil {
		writeAPIError(c, errAccess)
		return
	}
	refresh, errRefresh := security.GenerateSessionToken(h.cfg.JWTRefreshSecret, user, h.cfg.RefreshTokenExpiry())
	if errRefresh != nil {
		writeAPIError(c, errRefresh)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    int(h.cfg.AccessTokenExpiry() / time.Second),
	})
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a valid refresh token for a new access token. The
// user record is re-read so revoked accounts and changed roles take
// effect at refresh time.
func (h *TokenHandler) Refresh(c *gin.Context) {
	var body refreshTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	claims, errVerify := h.verifier.VerifySessionToken(body.RefreshToken, security.TokenKindRefresh)
	if errVerify != nil {
		writeAPIError(c, errVerify)
		return
	}

	user, errLoad := loadUser(c, h.db, claims.UserID)
	if errLoad != nil {
		writeAPIError(c, errLoad)
		return
	}

	access, errAccess := security.GenerateSessionToken(h.cfg.JWTSecret, user, h.cfg.AccessTokenExpiry())
	if errAccess != nil {
		writeAPIError(c, errAccess)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": access,
		"token_type":   "bearer",
		"expires_in":   int(h.cfg.AccessTokenExpiry() / time.Second),
	})
}
