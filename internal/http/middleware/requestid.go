// Package middleware holds the gin middleware shared by the relay and
// admin API surfaces.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/amirhdaghestani/openai-api/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request an identifier, honouring one supplied
// by the client, and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		logging.SetGinRequestID(c, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
