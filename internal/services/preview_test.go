package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatstream/internal/apperr"
	"chatstream/internal/mocks"
	"chatstream/internal/models"
)

func TestListMyChatsDistinguishesEmptyChats(t *testing.T) {
	directory := new(mocks.ChatDirectoryMock)
	messages := new(mocks.MessageLogMock)
	agg := NewPreviewAggregator(directory, messages, nil)

	userID := uuid.New()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	quiet, busy, blank := uuid.New(), uuid.New(), uuid.New()
	peer := uuid.New()
	directory.On("GetUserChats", mock.Anything, userID).Return([]models.UserChat{
		{ChatID: quiet, Name: "quiet", Role: models.RoleOwner, CreatedAt: created},
		{ChatID: busy, Name: "busy", Role: models.RoleMember, CreatedAt: created},
		{ChatID: blank, Name: "dm", IsDM: true, DMPeerID: &peer, Role: models.RoleMember, CreatedAt: created},
	}, nil).Once()

	later := models.NewMessageID(uint64(created.Add(time.Hour).UnixMilli()), 0)
	latest := models.NewMessageID(uint64(created.Add(2*time.Hour).UnixMilli()), 0)
	messages.On("Last", mock.Anything, quiet).Return(nil, false, nil).Once()
	messages.On("Last", mock.Anything, busy).Return(models.Message{ID: later, ChatID: busy, SenderID: "bob", Content: "hi", Timestamp: later.Time()}, true, nil).Once()
	messages.On("Last", mock.Anything, blank).Return(models.Message{ID: latest, ChatID: blank, SenderID: "bob", Content: "", Timestamp: latest.Time()}, true, nil).Once()

	previews, err := agg.ListMyChats(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, previews, 3)

	assert.Equal(t, blank, previews[0].ChatID)
	assert.True(t, previews[0].HasMessages)
	require.NotNil(t, previews[0].LastMessage)
	assert.Equal(t, "", previews[0].LastMessage.Content)
	assert.Equal(t, &peer, previews[0].DMParticipantID)

	assert.Equal(t, busy, previews[1].ChatID)
	assert.Equal(t, "hi", previews[1].LastMessage.Content)
	assert.Equal(t, later.Time(), previews[1].LastActivity)

	assert.Equal(t, quiet, previews[2].ChatID)
	assert.False(t, previews[2].HasMessages)
	assert.Nil(t, previews[2].LastMessage)
	assert.Equal(t, created, previews[2].LastActivity)

	directory.AssertExpectations(t)
	messages.AssertExpectations(t)
}

func TestListMyChatsFailsWhole(t *testing.T) {
	directory := new(mocks.ChatDirectoryMock)
	messages := new(mocks.MessageLogMock)
	agg := NewPreviewAggregator(directory, messages, nil)
	userID := uuid.New()
	a, b := uuid.New(), uuid.New()

	directory.On("GetUserChats", mock.Anything, userID).Return([]models.UserChat{{ChatID: a}, {ChatID: b}}, nil).Once()
	messages.On("Last", mock.Anything, a).Return(nil, false, nil).Once()
	messages.On("Last", mock.Anything, b).Return(nil, false, errors.New("redis down")).Once()

	previews, err := agg.ListMyChats(context.Background(), userID)
	assert.ErrorIs(t, err, apperr.Upstream)
	assert.Nil(t, previews)
}

func TestListMyChatsDirectoryError(t *testing.T) {
	directory := new(mocks.ChatDirectoryMock)
	agg := NewPreviewAggregator(directory, new(mocks.MessageLogMock), nil)
	userID := uuid.New()

	directory.On("GetUserChats", mock.Anything, userID).Return(nil, assert.AnError).Once()

	_, err := agg.ListMyChats(context.Background(), userID)
	assert.ErrorIs(t, err, apperr.Upstream)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestListAvailableChats(t *testing.T) {
	directory := new(mocks.ChatDirectoryMock)
	messages := new(mocks.MessageLogMock)
	agg := NewPreviewAggregator(directory, messages, nil)
	userID := uuid.New()
	chatID := uuid.New()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	directory.On("GetPublicChatsExcludingMember", mock.Anything, userID).Return([]models.PublicChat{{ChatID: chatID, Name: "lobby", CreatedAt: created}}, nil).Once()

	previews, err := agg.ListAvailableChats(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, previews, 1)
	assert.Equal(t, "lobby", previews[0].ChatName)
	assert.True(t, previews[0].IsPublic)
	assert.Equal(t, created, previews[0].LastActivity)
	messages.AssertNotCalled(t, "Last", mock.Anything, mock.Anything)
}

func TestListAvailableChatsError(t *testing.T) {
	directory := new(mocks.ChatDirectoryMock)
	agg := NewPreviewAggregator(directory, new(mocks.MessageLogMock), nil)
	userID := uuid.New()
	directory.On("GetPublicChatsExcludingMember", mock.Anything, userID).Return(nil, assert.AnError).Once()

	_, err := agg.ListAvailableChats(context.Background(), userID)
	assert.ErrorIs(t, err, apperr.Upstream)
}
