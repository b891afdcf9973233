package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"ciphertalk/internal/middleware"
	"ciphertalk/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(observability.RequestIDKey); id != "" {
		return id
	}
	requestID := observability.RequestIDFromRequest(c.Request)
	c.Set(observability.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	id, ok := middleware.IdentityFrom(c)
	if !ok || id.UserID == 0 {
		return nil
	}
	value := strconv.FormatInt(id.UserID, 10)
	return &value
}
