package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mailblog/core/internal/pkg/jwt"
	"github.com/mailblog/core/internal/pkg/response"
)

const (
	// ContextKeySubject holds the authenticated admin subject.
	ContextKeySubject = "auth_subject"
)

// Auth returns a middleware that enforces JWT authentication for admin routes.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := ValidateToken(extractToken(c))
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeySubject, claims.Subject)
		c.Next()
	}
}

// OptionalAuth sets the subject if a valid token is present, but does not
// block the request. Used so the rate limiter can skip admin traffic.
func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := ValidateToken(extractToken(c)); err == nil && claims.Subject != "" {
			c.Set(ContextKeySubject, claims.Subject)
		}
		c.Next()
	}
}

// ValidateToken validates a JWT and returns its claims.
func ValidateToken(rawToken string) (*jwt.Claims, error) {
	token := NormalizeToken(rawToken)
	if token == "" {
		return nil, errors.New("token is required")
	}
	return jwt.Parse(token)
}

// CurrentSubject extracts the authenticated subject from context.
func CurrentSubject(c *gin.Context) string {
	v, _ := c.Get(ContextKeySubject)
	id, _ := v.(string)
	return id
}

// IsAuthenticated returns true if the request has a valid auth token.
func IsAuthenticated(c *gin.Context) bool {
	return CurrentSubject(c) != ""
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth != "" {
		return NormalizeToken(auth)
	}
	return NormalizeToken(c.Query("auth_token"))
}

// NormalizeToken trims spaces and strips an optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	return token
}
