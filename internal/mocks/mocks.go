package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"chatstream/internal/models"
	"chatstream/internal/repositories"
	"chatstream/internal/session"
)

type MessageLogMock struct {
	mock.Mock
}

func (m *MessageLogMock) Append(ctx context.Context, chatID uuid.UUID, senderID string, content string) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageLogMock) Range(ctx context.Context, chatID uuid.UUID, start, end *models.MessageID, limit int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, start, end, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageLogMock) Last(ctx context.Context, chatID uuid.UUID) (models.Message, bool, error) {
	args := m.Called(ctx, chatID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

type ChatDirectoryMock struct {
	mock.Mock
}

func (m *ChatDirectoryMock) GetUserChats(ctx context.Context, userID uuid.UUID) ([]models.UserChat, error) {
	args := m.Called(ctx, userID)
	var list []models.UserChat
	if val := args.Get(0); val != nil {
		list = val.([]models.UserChat)
	}
	return list, args.Error(1)
}

func (m *ChatDirectoryMock) GetPublicChatsExcludingMember(ctx context.Context, userID uuid.UUID) ([]models.PublicChat, error) {
	args := m.Called(ctx, userID)
	var list []models.PublicChat
	if val := args.Get(0); val != nil {
		list = val.([]models.PublicChat)
	}
	return list, args.Error(1)
}

func (m *ChatDirectoryMock) CreateChat(ctx context.Context, chat models.NewChat) (models.Chat, error) {
	args := m.Called(ctx, chat)
	var out models.Chat
	if val := args.Get(0); val != nil {
		out = val.(models.Chat)
	}
	return out, args.Error(1)
}

func (m *ChatDirectoryMock) GetChat(ctx context.Context, chatID uuid.UUID) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatDirectoryMock) IsMember(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatDirectoryMock) CanAccess(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatDirectoryMock) ResolveUsernames(ctx context.Context, usernames []string) (map[string]uuid.UUID, error) {
	args := m.Called(ctx, usernames)
	var out map[string]uuid.UUID
	if val := args.Get(0); val != nil {
		out = val.(map[string]uuid.UUID)
	}
	return out, args.Error(1)
}

func (m *ChatDirectoryMock) JoinChat(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) Create(ctx context.Context, username, passHash string) (models.User, error) {
	args := m.Called(ctx, username, passHash)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) Exists(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

type SessionStoreMock struct {
	mock.Mock
}

func (m *SessionStoreMock) Create(ctx context.Context, userID uuid.UUID, username string) (string, error) {
	args := m.Called(ctx, userID, username)
	return args.String(0), args.Error(1)
}

func (m *SessionStoreMock) Validate(ctx context.Context, token string) (models.Session, bool, error) {
	args := m.Called(ctx, token)
	var sess models.Session
	if val := args.Get(0); val != nil {
		sess = val.(models.Session)
	}
	return sess, args.Bool(1), args.Error(2)
}

func (m *SessionStoreMock) Invalidate(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

var _ repositories.MessageLog = (*MessageLogMock)(nil)
var _ repositories.ChatDirectory = (*ChatDirectoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ session.Store = (*SessionStoreMock)(nil)
