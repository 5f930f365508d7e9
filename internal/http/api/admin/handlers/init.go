package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/security"
)

// InitHandler performs the one-time bootstrap that creates the owner.
type InitHandler struct {
	db       *gorm.DB
	verifier *auth.Verifier
}

// NewInitHandler constructs an InitHandler.
func NewInitHandler(db *gorm.DB, verifier *auth.Verifier) *InitHandler {
	return &InitHandler{db: db, verifier: verifier}
}

// Status reports whether an owner account already exists.
func (h *InitHandler) Status(c *gin.Context) {
	var owners int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("role = ?", models.RoleOwner).
		Count(&owners).Error; errCount != nil {
		writeAPIError(c, errCount)
		return
	}
	c.JSON(http.StatusOK, gin.H{"initialized": owners > 0})
}

type initRequest struct {
	InitToken string `json:"init_token"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Password  string `json:"password"`
}

// Bootstrap creates the sole owner account. It is gated by the
// configured init token and refuses to run once any owner exists.
func (h *InitHandler) Bootstrap(c *gin.Context) {
	var body initRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !h.verifier.VerifyInitToken(body.InitToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid init token"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" || strings.TrimSpace(body.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id or password"})
		return
	}

	var owners int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("role = ?", models.RoleOwner).
		Count(&owners).Error; errCount != nil {
		writeAPIError(c, errCount)
		return
	}
	if owners > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "owner already initialized"})
		return
	}

	apiKey, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		writeAPIError(c, errGenerate)
		return
	}
	hashed, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		writeAPIError(c, errHash)
		return
	}
	permissions := models.DefaultPermissions()
	permissions[models.CapabilityFineTune] = true
	permissionsJSON, errEncode := permissions.JSON()
	if errEncode != nil {
		writeAPIError(c, errEncode)
		return
	}

	owner := models.User{
		UserID:      userID,
		Name:        strings.TrimSpace(body.Name),
		Role:        models.RoleOwner,
		Password:    hashed,
		APIKeyHash:  security.HashAPIKey(apiKey),
		Permissions: permissionsJSON,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&owner).Error; errCreate != nil {
		writeAPIError(c, errCreate)
		return
	}

	view := userView(&owner)
	view["api_key"] = apiKey
	c.JSON(http.StatusCreated, view)
}
