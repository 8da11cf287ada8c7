package middleware

import (
	"strings"

	"peerboard/internal/core/services"
	apperrors "peerboard/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires a valid bearer token when auth is enabled and
// passes every request through otherwise.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authService.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithAppError(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWithAppError(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			abortWithAppError(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		c.Set("participant_id", claims.ParticipantID)
		c.Set("client", claims.Client)
		c.Next()
	}
}
