package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatstream/internal/middleware"
	"chatstream/internal/observability"
)

const requestIDContextKey = "request_id"

// requestIDFromContext reuses the caller's X-Request-Id or mints one, and
// keeps it on the gin context so every audit record of a request agrees.
func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(requestIDContextKey); id != "" {
		return id
	}
	id := observability.MetaFromRequest(c.Request).RequestID
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDContextKey, id)
	return id
}

// userIDFromContext is nil for anonymous requests.
func userIDFromContext(c *gin.Context) *string {
	id := middleware.UserID(c)
	if id == uuid.Nil {
		return nil
	}
	value := id.String()
	return &value
}
