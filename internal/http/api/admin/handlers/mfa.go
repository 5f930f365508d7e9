package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/security"
)

// MFAHandler manages TOTP enrolment for the calling user.
type MFAHandler struct {
	db *gorm.DB
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(db *gorm.DB) *MFAHandler {
	return &MFAHandler{db: db}
}

const totpIssuer = "openai-api"

// Setup provisions a new TOTP secret for the caller. The secret only
// becomes active once Activate confirms a valid code.
func (h *MFAHandler) Setup(c *gin.Context) {
	requester := caller(c)
	if requester == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	secret, url, errGenerate := security.GenerateTOTPSecret(totpIssuer, requester.UserID)
	if errGenerate != nil {
		writeAPIError(c, errGenerate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret, "otpauth_url": url})
}

type activateMFARequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// Activate stores the TOTP secret after verifying one code against it.
func (h *MFAHandler) Activate(c *gin.Context) {
	requester := caller(c)
	if requester == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	var body activateMFARequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !security.ValidateTOTP(body.Code, body.Secret) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid one-time code"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("user_id = ?", requester.UserID).
		UpdateColumn("totp_secret", body.Secret).Error; errUpdate != nil {
		writeAPIError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mfa_enabled": true})
}

// Deactivate clears the caller's TOTP secret.
func (h *MFAHandler) Deactivate(c *gin.Context) {
	requester := caller(c)
	if requester == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("user_id = ?", requester.UserID).
		UpdateColumn("totp_secret", "").Error; errUpdate != nil {
		writeAPIError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mfa_enabled": false})
}
