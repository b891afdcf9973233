package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ciphertalk/internal/auth"
	"ciphertalk/internal/models"
)

// IdentityKey is the gin context key holding the caller's models.Identity.
const IdentityKey = "identity"

// IdentityProvider resolves a bearer token.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (models.Identity, error)
}

// AuthMiddleware validates the Authorization header and stores the identity on the context.
func AuthMiddleware(provider IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := provider.Authenticate(c.Request.Context(), strings.TrimSpace(parts[1]))
		if errors.Is(err, auth.ErrUnauthenticated) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "auth service unavailable"})
			return
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	val, ok := c.Get(IdentityKey)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := val.(models.Identity)
	return id, ok
}
