package http

import (
	"net/http"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/services"
	"peerboard/pkg/errors"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
	tokenTTL    int
}

func NewAuthHandler(authService services.AuthService, tokenTTLSeconds int) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTLSeconds,
	}
}

// SetupRoutes mounts the token endpoints behind the given auth middleware.
func (h *AuthHandler) SetupRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1/auth", middleware...)
	{
		api.GET("/status", h.Status)
		api.POST("/refresh", h.RefreshToken)
	}
}

func (h *AuthHandler) Status(c *gin.Context) {
	body := gin.H{"enabled": h.authService.Enabled()}
	if id, ok := c.Get("participant_id"); ok {
		body["participant_id"] = id
		body["client"] = c.GetString("client")
	}
	c.JSON(http.StatusOK, body)
}

// RefreshToken reissues the caller's token with a fresh expiry.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	if !h.authService.Enabled() {
		c.Error(errors.NewInvalidInputError("authentication is disabled"))
		return
	}

	id, ok := c.Get("participant_id")
	participantID, valid := id.(domain.ParticipantID)
	if !ok || !valid {
		c.Error(errors.NewUnauthorizedError("missing token claims"))
		return
	}

	token, err := h.authService.GenerateToken(participantID, c.GetString("client"))
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_in":   h.tokenTTL,
	})
}
