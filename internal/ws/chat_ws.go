package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"chatstream/internal/observability"
	"chatstream/internal/platform/logging"
	"chatstream/internal/repositories"
	"chatstream/internal/session"
)

// ChatWebSocketHandler authenticates chat websocket requests and hands the
// upgraded connection to a Coordinator.
type ChatWebSocketHandler struct {
	live      LiveChannel
	messages  repositories.MessageLog
	directory repositories.ChatDirectory
	sessions  session.Store
	limiter   RateLimiter
	cfg       CoordinatorConfig
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler. limiter may be nil.
func NewChatWebSocketHandler(live LiveChannel, messages repositories.MessageLog, directory repositories.ChatDirectory, sessions session.Store, limiter RateLimiter, cfg CoordinatorConfig, log *zap.Logger) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{
		live:      live,
		messages:  messages,
		directory: directory,
		sessions:  sessions,
		limiter:   limiter,
		cfg:       cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logging.OrNop(log),
	}
}

// Handle rejects unauthenticated or unauthorised requests before the upgrade,
// then runs the chat session until either side closes it.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	ctx, span := observability.Tracer().Start(c.Request.Context(), "ws.handshake")
	span.SetAttributes(attribute.String("chat.id", chatID.String()))
	c.Request = c.Request.WithContext(ctx)

	sess, ok, err := h.sessions.Validate(ctx, TokenFromRequest(c.Request))
	if err != nil {
		span.End()
		h.log.Error("session lookup failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "session service unavailable"})
		return
	}
	if !ok {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	allowed, err := h.directory.CanAccess(ctx, chatID, sess.UserID)
	switch {
	case errors.Is(err, repositories.ErrChatNotFound):
		span.End()
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	case err != nil:
		span.End()
		h.log.Error("membership lookup failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "directory unavailable"})
		return
	case !allowed:
		span.End()
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for chat"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	span.End()
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		ChatID:      chatID,
		UserID:      sess.UserID,
		Username:    sess.Username,
		Meta:        observability.MetaFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}

	observability.IncWSActive()
	h.publishWSEvent(info, "ws_connect", "")

	coord := NewCoordinator(conn, chatID, sess, h.messages, h.live, h.limiter, h.cfg, h.log.With(zap.String("conn_id", info.ConnID)))
	runErr := coord.Run(ctx)

	observability.DecWSActive()
	reason := ""
	if runErr != nil {
		reason = runErr.Error()
		h.publishWSEvent(info, "ws_error", reason)
	}
	h.publishWSEvent(info, "ws_disconnect", reason)
}

func (h *ChatWebSocketHandler) publishWSEvent(info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	err := observability.PublishEvent(context.Background(), observability.RoutingKeyWSChats, observability.EventEnvelope{
		EventType:  observability.EventTypeWS,
		EventName:  event,
		OccurredAt: time.Now().UTC(),
		RequestID:  info.Meta.RequestID,
		TraceID:    info.Meta.TraceID,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"resource_id": info.ChatID.String(),
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID.String(),
				"username":  info.Username,
				"device_id": info.Meta.DeviceID,
				"ip":        info.Meta.IP,
			},
		},
	})
	if err != nil {
		h.log.Debug("ws event publish failed", zap.String("event", event), zap.Error(err))
	}
}
