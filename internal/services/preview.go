package services

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatstream/internal/apperr"
	"chatstream/internal/models"
	"chatstream/internal/platform/logging"
	"chatstream/internal/repositories"
)

// PreviewAggregator builds chat list views from the directory and the message log.
// Any collaborator failure aborts the whole listing.
type PreviewAggregator struct {
	directory repositories.ChatDirectory
	messages  repositories.MessageLog
	log       *zap.Logger
}

func NewPreviewAggregator(directory repositories.ChatDirectory, messages repositories.MessageLog, log *zap.Logger) *PreviewAggregator {
	return &PreviewAggregator{directory: directory, messages: messages, log: logging.OrNop(log)}
}

// ListMyChats returns a preview of every chat the user belongs to, most
// recently active first.
func (a *PreviewAggregator) ListMyChats(ctx context.Context, userID uuid.UUID) ([]models.ChatPreview, error) {
	const op = "preview.list_my_chats"

	chats, err := a.directory.GetUserChats(ctx, userID)
	if err != nil {
		return nil, apperr.UpstreamError(op, err)
	}

	previews := lo.Map(chats, func(item models.UserChat, _ int) models.ChatPreview {
		return previewFromUserChat(item)
	})
	for i := range previews {
		last, ok, err := a.messages.Last(ctx, previews[i].ChatID)
		if err != nil {
			a.log.Warn("last message lookup failed", zap.String("chat_id", previews[i].ChatID.String()), zap.Error(err))
			return nil, apperr.UpstreamError(op, err)
		}
		if ok {
			previews[i].SetLastMessage(last)
		}
	}

	sort.SliceStable(previews, func(i, j int) bool {
		return previews[i].LastActivity.After(previews[j].LastActivity)
	})
	return previews, nil
}

// ListAvailableChats returns public chats the user has not joined.
func (a *PreviewAggregator) ListAvailableChats(ctx context.Context, userID uuid.UUID) ([]models.ChatPreview, error) {
	chats, err := a.directory.GetPublicChatsExcludingMember(ctx, userID)
	if err != nil {
		return nil, apperr.UpstreamError("preview.list_available_chats", err)
	}
	return lo.Map(chats, func(item models.PublicChat, _ int) models.ChatPreview {
		return models.ChatPreview{
			ChatID:       item.ChatID,
			ChatName:     item.Name,
			IsPublic:     true,
			LastActivity: item.CreatedAt,
		}
	}), nil
}

func previewFromUserChat(c models.UserChat) models.ChatPreview {
	return models.ChatPreview{
		ChatID:          c.ChatID,
		ChatName:        c.Name,
		IsPublic:        c.IsPublic,
		IsDM:            c.IsDM,
		Role:            c.Role,
		DMParticipantID: c.DMPeerID,
		LastActivity:    c.CreatedAt,
	}
}
