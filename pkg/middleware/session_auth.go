package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cad-copilot/backend/pkg/errors"
	"cad-copilot/backend/pkg/jwt"
	"cad-copilot/backend/pkg/logger"
)

// RequireSessionToken checks that the bearer token was issued for the
// session named by the :id route parameter.
func RequireSessionToken(jwtService *jwt.Service, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			token = c.Query("token")
		}
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authorization header is required"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			logger.Warn("Invalid session token", "error", err.Error())
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		sessionID := c.Param("id")
		if sessionID == "" {
			sessionID = c.Query("sessionId")
		}
		if sessionID != claims.SessionID {
			c.Error(errors.NewError(http.StatusForbidden, "SESSION_MISMATCH", "Token was not issued for this session"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}
