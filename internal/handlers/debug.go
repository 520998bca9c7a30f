package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatstream/internal/telemetry"
)

// LiveStats reports local live subscriptions per chat.
type LiveStats interface {
	Count(chatID uuid.UUID) int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, live LiveStats, enabled bool) {
	if !enabled {
		return
	}

	debug := router.Group("/debug")
	debug.POST("/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditEvent{
			Level:     "INFO",
			Action:    "debug.audit_test",
			Text:      "audit test",
			RequestID: requestIDFromContext(c),
			UserID:    userIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestIDFromContext(c)})
	})
	debug.GET("/live/:chat_id", func(c *gin.Context) {
		chatID, ok := parseChatID(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "subscribers": live.Count(chatID)})
	})
}
