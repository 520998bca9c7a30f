package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatstream/internal/apperr"
	"chatstream/internal/models"
	"chatstream/internal/platform/logging"
	"chatstream/internal/repositories"
)

var validate = validator.New()

// CreateChatRequest is the body of a chat creation call.
type CreateChatRequest struct {
	Name       string   `json:"chat_name" validate:"required,min=1,max=64"`
	IsPublic   bool     `json:"is_public"`
	IsDM       bool     `json:"is_dm"`
	OtherUsers []string `json:"other_users" validate:"max=256,dive,max=32"`
}

// LivePublisher is the publish side of the live channel.
type LivePublisher interface {
	Publish(ctx context.Context, chatID uuid.UUID, msg models.Message) error
}

// ChatService creates and joins chats.
type ChatService struct {
	directory repositories.ChatDirectory
	messages  repositories.MessageLog
	live      LivePublisher
	log       *zap.Logger
}

func NewChatService(directory repositories.ChatDirectory, messages repositories.MessageLog, live LivePublisher, log *zap.Logger) *ChatService {
	return &ChatService{directory: directory, messages: messages, live: live, log: logging.OrNop(log)}
}

// CreateChat stores the chat with its initial members, then announces it with
// a SYSTEM message that is appended to the log and published live.
func (s *ChatService) CreateChat(ctx context.Context, creator models.Session, req CreateChatRequest) (models.ChatPreview, error) {
	const op = "chat.create"

	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return models.ChatPreview{}, apperr.ValidationError(op, err)
	}

	others := lo.Uniq(lo.FilterMap(req.OtherUsers, func(name string, _ int) (string, bool) {
		name = strings.TrimSpace(name)
		return name, name != "" && name != creator.Username
	}))
	if req.IsDM {
		if len(others) != 1 {
			return models.ChatPreview{}, apperr.Invalid(op, "a direct message needs exactly one other member")
		}
		req.IsPublic = false
	}

	ids := map[string]uuid.UUID{}
	if len(others) > 0 {
		resolved, err := s.directory.ResolveUsernames(ctx, others)
		if err != nil {
			return models.ChatPreview{}, apperr.UpstreamError(op, err)
		}
		ids = resolved
	}
	missing := lo.Filter(others, func(name string, _ int) bool {
		_, ok := ids[name]
		return !ok
	})
	if len(missing) > 0 {
		return models.ChatPreview{}, apperr.Invalid(op, fmt.Sprintf("unknown users: %s", strings.Join(missing, ", ")))
	}

	chat, err := s.directory.CreateChat(ctx, models.NewChat{
		ID:        uuid.New(),
		Name:      req.Name,
		IsPublic:  req.IsPublic,
		IsDM:      req.IsDM,
		CreatorID: creator.UserID,
		MemberIDs: lo.Map(others, func(name string, _ int) uuid.UUID { return ids[name] }),
	})
	if err != nil {
		return models.ChatPreview{}, apperr.UpstreamError(op, err)
	}

	preview := models.ChatPreview{
		ChatID:       chat.ID,
		ChatName:     chat.Name,
		IsPublic:     chat.IsPublic,
		IsDM:         chat.IsDM,
		Role:         models.RoleOwner,
		LastActivity: chat.CreatedAt,
	}
	if chat.IsDM {
		peer := ids[others[0]]
		preview.DMParticipantID = &peer
	}

	msg, err := s.messages.Append(ctx, chat.ID, models.SystemSender, fmt.Sprintf("%s created chat %q", creator.Username, chat.Name))
	if err != nil {
		s.log.Error("chat created without announcement", zap.String("chat_id", chat.ID.String()), zap.Error(err))
		return preview, err
	}
	preview.SetLastMessage(msg)

	if err := s.live.Publish(ctx, chat.ID, msg); err != nil {
		s.log.Warn("live publish failed", zap.String("chat_id", chat.ID.String()), zap.Error(err))
	}
	return preview, nil
}

// JoinChat adds the user to a public chat.
func (s *ChatService) JoinChat(ctx context.Context, chatID, userID uuid.UUID) error {
	const op = "chat.join"
	err := s.directory.JoinChat(ctx, chatID, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrChatNotFound):
		return apperr.NotFoundError(op, err)
	case errors.Is(err, repositories.ErrChatNotPublic):
		return apperr.ForbiddenError(op, err)
	default:
		return apperr.UpstreamError(op, err)
	}
}

// History returns a page of a chat's message log for a user allowed to read it.
func (s *ChatService) History(ctx context.Context, chatID, userID uuid.UUID, start, end *models.MessageID, limit int) ([]models.Message, error) {
	const op = "chat.history"
	allowed, err := s.directory.CanAccess(ctx, chatID, userID)
	switch {
	case errors.Is(err, repositories.ErrChatNotFound):
		return nil, apperr.NotFoundError(op, err)
	case err != nil:
		return nil, apperr.UpstreamError(op, err)
	case !allowed:
		return nil, apperr.ForbiddenError(op, repositories.ErrChatNotPublic)
	}
	return s.messages.Range(ctx, chatID, start, end, limit)
}
