package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amirhdaghestani/openai-api/internal/http/middleware"
)

// AccountHandler serves the caller's own profile on the relay surface.
type AccountHandler struct{}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler() *AccountHandler {
	return &AccountHandler{}
}

// Me returns the caller's profile and remaining allowances. The record
// is the one loaded during API key authentication, so the counters
// reflect the state at admission time.
func (h *AccountHandler) Me(c *gin.Context) {
	caller := middleware.CallerFromContext(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing caller identity"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":         caller.UserID,
		"name":            caller.Name,
		"role":            caller.Role,
		"permissions":     caller.PermissionSet(),
		"request_limit":   caller.RequestLimit,
		"fine_tune_limit": caller.FineTuneLimit,
	})
}
