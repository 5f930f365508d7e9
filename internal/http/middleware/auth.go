package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/security"
)

const (
	callerContextKey = "middleware.caller"
	claimsContextKey = "middleware.claims"
)

// bearerToken extracts the credential from the Authorization header.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}

// abortWithError maps an error onto the JSON error envelope.
func abortWithError(c *gin.Context, err error) {
	if apiErr, ok := apierror.FromError(err); ok {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr.Message})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// APIKeyAuth authenticates relay requests by API key and stores the
// resolved caller on the context.
func APIKeyAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, errVerify := verifier.VerifyAPIKey(c.Request.Context(), bearerToken(c))
		if errVerify != nil {
			abortWithError(c, errVerify)
			return
		}
		c.Set(callerContextKey, caller)
		c.Next()
	}
}

// SessionAuth authenticates admin requests by access token and stores
// the decoded claims on the context.
func SessionAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, errVerify := verifier.VerifySessionToken(bearerToken(c), security.TokenKindAccess)
		if errVerify != nil {
			abortWithError(c, errVerify)
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// CallerFromContext returns the API-key caller resolved by APIKeyAuth.
func CallerFromContext(c *gin.Context) *models.User {
	if value, ok := c.Get(callerContextKey); ok {
		if caller, okCast := value.(*models.User); okCast {
			return caller
		}
	}
	return nil
}

// ClaimsFromContext returns the session claims resolved by SessionAuth.
func ClaimsFromContext(c *gin.Context) *security.SessionClaims {
	if value, ok := c.Get(claimsContextKey); ok {
		if claims, okCast := value.(*security.SessionClaims); okCast {
			return claims
		}
	}
	return nil
}

// ClaimsUser materializes a User out of session claims for gate checks.
func ClaimsUser(claims *security.SessionClaims) *models.User {
	if claims == nil {
		return nil
	}
	encoded, errEncode := claims.Permissions.JSON()
	if errEncode != nil {
		encoded = nil
	}
	return &models.User{
		UserID:      claims.UserID,
		Name:        claims.Name,
		Role:        claims.Role,
		Permissions: encoded,
	}
}
