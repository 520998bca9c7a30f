package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatstream/internal/middleware"
	"chatstream/internal/models"
	"chatstream/internal/platform/logging"
	"chatstream/internal/services"
	"chatstream/internal/telemetry"
)

// ChatHandler serves chat listing, creation, joining and history.
type ChatHandler struct {
	responder
	previews *services.PreviewAggregator
	chats    *services.ChatService
	audit    *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(previews *services.PreviewAggregator, chats *services.ChatService, audit *telemetry.AuditEmitter, log *zap.Logger) *ChatHandler {
	return &ChatHandler{
		responder: responder{log: logging.OrNop(log)},
		previews:  previews,
		chats:     chats,
		audit:     audit,
	}
}

// ListMyChats returns the caller's chats, most recently active first.
func (h *ChatHandler) ListMyChats(c *gin.Context) {
	previews, err := h.previews.ListMyChats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": previews})
}

// ListAvailableChats returns public chats the caller can join.
func (h *ChatHandler) ListAvailableChats(c *gin.Context) {
	previews, err := h.previews.ListAvailableChats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": previews})
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req services.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	preview, err := h.chats.CreateChat(c.Request.Context(), sess, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.audit.Emit(c.Request.Context(), telemetry.AuditEvent{
		Level:     "INFO",
		Action:    "chat.create",
		Text:      "chat created",
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
		Attrs: map[string]string{
			"chat_id":   preview.ChatID.String(),
			"is_public": strconv.FormatBool(preview.IsPublic),
			"is_dm":     strconv.FormatBool(preview.IsDM),
		},
	})
	c.JSON(http.StatusCreated, preview)
}

func (h *ChatHandler) JoinChat(c *gin.Context) {
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}
	if err := h.chats.JoinChat(c.Request.Context(), chatID, middleware.UserID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetChatMessages pages through a chat's history. start_id and end_id are
// inclusive; count defaults to the log's page size.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}

	start, ok := parseOptionalID(c, "start_id")
	if !ok {
		return
	}
	end, ok := parseOptionalID(c, "end_id")
	if !ok {
		return
	}
	count := 0
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
			return
		}
		count = n
	}

	msgs, err := h.chats.History(c.Request.Context(), chatID, middleware.UserID(c), start, end, count)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func parseChatID(c *gin.Context) (uuid.UUID, bool) {
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return uuid.Nil, false
	}
	return chatID, true
}

func parseOptionalID(c *gin.Context, name string) (*models.MessageID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := models.ParseMessageID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &id, true
}
