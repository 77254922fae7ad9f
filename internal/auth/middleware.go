package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"license-server/internal/apperr"
	"license-server/internal/database"
)

const (
	// Context keys for user data
	ContextKeyUser     = "auth_user"
	ContextKeyUsername = "auth_username"
)

// Middleware authenticates the bearer token and loads the live user row
func Middleware(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apperr.Respond(c, ErrUnauthorized)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			apperr.Respond(c, ErrInvalidToken)
			return
		}

		user, err := service.CurrentUser(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		c.Set(ContextKeyUser, user)
		c.Set(ContextKeyUsername, user.Username)

		// tag request logs with the caller
		if l := zerolog.Ctx(c.Request.Context()); l.GetLevel() != zerolog.Disabled {
			l.UpdateContext(func(zc zerolog.Context) zerolog.Context {
				return zc.Str("username", user.Username)
			})
		}

		c.Next()
	}
}

// CurrentUserFrom extracts the authenticated user from the Gin context
func CurrentUserFrom(c *gin.Context) *database.User {
	if v, exists := c.Get(ContextKeyUser); exists {
		if user, ok := v.(*database.User); ok {
			return user
		}
	}
	return nil
}
