package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/auth"
	dbutil "github.com/amirhdaghestani/openai-api/internal/db"
	"github.com/amirhdaghestani/openai-api/internal/http/middleware"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/security"
	"github.com/amirhdaghestani/openai-api/internal/util"
)

// UserHandler manages user accounts.
type UserHandler struct {
	db *gorm.DB
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// loadUser fetches a user by external id, mapping absence to 404.
func loadUser(c *gin.Context, db *gorm.DB, userID string) (*models.User, error) {
	var user models.User
	errFind := db.WithContext(c.Request.Context()).Where("user_id = ?", userID).Take(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apierror.NotFound("user " + userID + " not found")
	}
	if errFind != nil {
		return nil, errFind
	}
	return &user, nil
}

// caller resolves the requesting identity from the session claims.
func caller(c *gin.Context) *models.User {
	return middleware.ClaimsUser(middleware.ClaimsFromContext(c))
}

// userView is the JSON shape returned for a user; the hashed secret
// never leaves the server.
func userView(user *models.User) gin.H {
	return gin.H{
		"user_id":         user.UserID,
		"name":            user.Name,
		"role":            user.Role,
		"permissions":     user.PermissionSet(),
		"request_limit":   user.RequestLimit,
		"fine_tune_limit": user.FineTuneLimit,
		"mfa_enabled":     user.TOTPSecret != "",
		"created_at":      user.CreatedAt,
		"updated_at":      user.UpdatedAt,
	}
}

type createUserRequest struct {
	UserID        string               `json:"user_id"`
	Name          string               `json:"name"`
	Role          string               `json:"role"`
	Password      string               `json:"password"`
	Permissions   models.PermissionSet `json:"permissions"`
	RequestLimit  int64                `json:"request_limit"`
	FineTuneLimit int64                `json:"fine_tune_limit"`
}

// Create registers a new user and returns the generated API key. The
// key is shown exactly once; only its hash is stored.
func (h *UserHandler) Create(c *gin.Context) {
	requester := caller(c)

	var body createUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	role := body.Role
	if role == "" {
		role = models.RoleUser
	}
	if !models.ValidRole(role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	if errAuthorize := auth.AuthorizeCreate(requester, role); errAuthorize != nil {
		writeAPIError(c, errAuthorize)
		return
	}

	permissions := body.Permissions
	if permissions == nil {
		permissions = models.DefaultPermissions()
	}
	if errValidate := permissions.Validate(); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid permissions"})
		return
	}
	permissionsJSON, errEncode := permissions.JSON()
	if errEncode != nil {
		writeAPIError(c, errEncode)
		return
	}

	var existing int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("user_id = ?", userID).
		Count(&existing).Error; errCount != nil {
		writeAPIError(c, errCount)
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "user " + userID + " already exists"})
		return
	}

	apiKey, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		writeAPIError(c, errGenerate)
		return
	}
	var passwordHash string
	if body.Password != "" {
		hashed, errHash := security.HashPassword(body.Password)
		if errHash != nil {
			writeAPIError(c, errHash)
			return
		}
		passwordHash = hashed
	}

	user := models.User{
		UserID:        userID,
		Name:          strings.TrimSpace(body.Name),
		Role:          role,
		Password:      passwordHash,
		APIKeyHash:    security.HashAPIKey(apiKey),
		Permissions:   permissionsJSON,
		RequestLimit:  body.RequestLimit,
		FineTuneLimit: body.FineTuneLimit,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		writeAPIError(c, errCreate)
		return
	}

	view := userView(&user)
	view["api_key"] = apiKey
	c.JSON(http.StatusCreated, view)
}

// List returns user accounts, admin-only, with optional name search.
func (h *UserHandler) List(c *gin.Context) {
	if errAdmin := auth.RequireAdmin(caller(c)); errAdmin != nil {
		writeAPIError(c, errAdmin)
		return
	}

	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if nameQ := strings.TrimSpace(c.Query("name")); nameQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+nameQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "name"), pattern)
	}
	if roleQ := strings.TrimSpace(c.Query("role")); roleQ != "" {
		q = q.Where("role = ?", roleQ)
	}

	var rows []models.User
	if errFind := q.Order("created_at DESC").Find(&rows).Error; errFind != nil {
		writeAPIError(c, errFind)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, userView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// Get returns one user. Non-admin callers may only read themselves.
func (h *UserHandler) Get(c *gin.Context) {
	targetID := c.Param("user_id")
	if errAccess := auth.RequireSelfOrAdmin(caller(c), targetID); errAccess != nil {
		writeAPIError(c, errAccess)
		return
	}
	user, errLoad := loadUser(c, h.db, targetID)
	if errLoad != nil {
		writeAPIError(c, errLoad)
		return
	}
	c.JSON(http.StatusOK, userView(user))
}

type updateUserRequest struct {
	Name          *string              `json:"name"`
	Permissions   models.PermissionSet `json:"permissions"`
	RequestLimit  *int64               `json:"request_limit"`
	FineTuneLimit *int64               `json:"fine_tune_limit"`
}

// Update modifies a user's name, permissions, or quotas. Role changes
// are not accepted here. An empty update is a no-op returning the
// current record.
func (h *UserHandler) Update(c *gin.Context) {
	targetID := c.Param("user_id")
	requester := caller(c)

	target, errLoad := loadUser(c, h.db, targetID)
	if errLoad != nil {
		writeAPIError(c, errLoad)
		return
	}
	if errAuthorize := auth.AuthorizeUpdate(requester, target); errAuthorize != nil {
		writeAPIError(c, errAuthorize)
		return
	}

	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{}
	if body.Name != nil {
		updates["name"] = strings.TrimSpace(*body.Name)
	}
	if body.Permissions != nil {
		if errValidate := body.Permissions.Validate(); errValidate != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid permissions"})
			return
		}
		permissionsJSON, errEncode := body.Permissions.JSON()
		if errEncode != nil {
			writeAPIError(c, errEncode)
			return
		}
		updates["permissions"] = permissionsJSON
	}
	// Quota changes are admin-only even on one's own record.
	if body.RequestLimit != nil || body.FineTuneLimit != nil {
		if errAdmin := auth.RequireAdmin(requester); errAdmin != nil {
			writeAPIError(c, errAdmin)
			return
		}
		if body.RequestLimit != nil {
			updates["request_limit"] = *body.RequestLimit
		}
		if body.FineTuneLimit != nil {
			updates["fine_tune_limit"] = *body.FineTuneLimit
		}
	}

	if len(updates) > 0 {
		if errUpdate := h.db.WithContext(c.Request.Context()).
			Model(&models.User{}).
			Where("user_id = ?", targetID).
			Updates(updates).Error; errUpdate != nil {
			writeAPIError(c, errUpdate)
			return
		}
	}

	updated, errReload := loadUser(c, h.db, targetID)
	if errReload != nil {
		writeAPIError(c, errReload)
		return
	}
	c.JSON(http.StatusOK, userView(updated))
}

// Delete removes a user and all of their usage events.
func (h *UserHandler) Delete(c *gin.Context) {
	targetID := c.Param("user_id")
	requester := caller(c)

	target, errLoad := loadUser(c, h.db, targetID)
	if errLoad != nil {
		writeAPIError(c, errLoad)
		return
	}
	if errAuthorize := auth.AuthorizeDelete(requester, target); errAuthorize != nil {
		writeAPIError(c, errAuthorize)
		return
	}

	errDelete := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errEvents := tx.Where("user_id = ?", targetID).Delete(&models.UsageEvent{}).Error; errEvents != nil {
			return errEvents
		}
		return tx.Where("user_id = ?", targetID).Delete(&models.User{}).Error
	})
	if errDelete != nil {
		writeAPIError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": targetID})
}

// RotateAPIKey replaces a user's API key, returning the new key once.
func (h *UserHandler) RotateAPIKey(c *gin.Context) {
	targetID := c.Param("user_id")
	requester := caller(c)

	target, errLoad := loadUser(c, h.db, targetID)
	if errLoad != nil {
		writeAPIError(c, errLoad)
		return
	}
	if errAuthorize := auth.AuthorizeUpdate(requester, target); errAuthorize != nil {
		writeAPIError(c, errAuthorize)
		return
	}

	apiKey, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		writeAPIError(c, errGenerate)
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("user_id = ?", targetID).
		UpdateColumn("api_key_hash", security.HashAPIKey(apiKey)).Error; errUpdate != nil {
		writeAPIError(c, errUpdate)
		return
	}
	log.Infof("api key rotated for %s by %s (key %s)", targetID, requester.UserID, util.HideAPIKey(apiKey))
	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "api_key": apiKey})
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

// ChangePassword sets a user's login password.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	targetID := c.Param("user_id")
	requester := caller(c)

	target, errLoad := loadUser(c, h.db, targetID)
	if errLoad != nil {
		writeAPIError(c, errLoad)
		return
	}
	if errAuthorize := auth.AuthorizeUpdate(requester, target); errAuthorize != nil {
		writeAPIError(c, errAuthorize)
		return
	}

	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing password"})
		return
	}

	hashed, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		writeAPIError(c, errHash)
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("user_id = ?", targetID).
		UpdateColumn("password", hashed).Error; errUpdate != nil {
		writeAPIError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "updated": true})
}
