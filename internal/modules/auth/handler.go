// Package auth issues admin JWTs against the configured admin password.
package auth

import (
	"crypto/subtle"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mailblog/core/internal/pkg/jwt"
	"github.com/mailblog/core/internal/pkg/response"
)

const tokenTTL = 7 * 24 * time.Hour

type LoginDTO struct {
	Password string `json:"password" binding:"required"`
}

type Handler struct {
	adminPassword string
}

func NewHandler(adminPassword string) *Handler {
	return &Handler{adminPassword: adminPassword}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/login", h.login)
}

func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Password is required")
		return
	}
	if h.adminPassword == "" {
		response.Forbidden(c)
		return
	}
	if subtle.ConstantTimeCompare([]byte(dto.Password), []byte(h.adminPassword)) != 1 {
		response.Unauthorized(c)
		return
	}

	token, err := jwt.Sign("admin", tokenTTL)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"token": token})
}
