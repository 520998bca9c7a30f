package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chatstream/internal/apperr"
	"chatstream/internal/mocks"
	"chatstream/internal/models"
	"chatstream/internal/repositories"
)

func newTestAuth() (*AuthService, *mocks.UserRepositoryMock, *mocks.SessionStoreMock) {
	users := new(mocks.UserRepositoryMock)
	sessions := new(mocks.SessionStoreMock)
	svc := NewAuthService(users, sessions, nil)
	svc.cost = bcrypt.MinCost
	return svc, users, sessions
}

func TestSignupHashesAndStartsSession(t *testing.T) {
	svc, users, sessions := newTestAuth()
	userID := uuid.New()

	users.On("Create", mock.Anything, "alice", mock.MatchedBy(func(hash string) bool {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")) == nil
	})).Return(models.User{ID: userID, Username: "alice"}, nil).Once()
	sessions.On("Create", mock.Anything, userID, "alice").Return("tok", nil).Once()

	res, err := svc.Signup(context.Background(), SignupRequest{Username: " alice ", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "tok", res.Token)
	assert.Equal(t, userID, res.User.ID)
	users.AssertExpectations(t)
	sessions.AssertExpectations(t)
}

func TestSignupRejects(t *testing.T) {
	cases := map[string]SignupRequest{
		"short username": {Username: "al", Password: "password1"},
		"symbols":        {Username: "al ice!", Password: "password1"},
		"short password": {Username: "alice", Password: "short"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			svc, users, _ := newTestAuth()
			_, err := svc.Signup(context.Background(), req)
			assert.ErrorIs(t, err, apperr.Validation)
			users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSignupUsernameTaken(t *testing.T) {
	svc, users, _ := newTestAuth()
	users.On("Create", mock.Anything, "alice", mock.Anything).Return(nil, repositories.ErrUsernameTaken).Once()

	_, err := svc.Signup(context.Background(), SignupRequest{Username: "alice", Password: "password1"})
	assert.ErrorIs(t, err, apperr.Validation)
	assert.ErrorIs(t, err, repositories.ErrUsernameTaken)
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{ID: uuid.New(), Username: "alice", PassHash: string(hash)}

	t.Run("ok", func(t *testing.T) {
		svc, users, sessions := newTestAuth()
		users.On("GetByUsername", mock.Anything, "alice").Return(user, nil).Once()
		sessions.On("Create", mock.Anything, user.ID, "alice").Return("tok", nil).Once()

		res, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "password1"})
		require.NoError(t, err)
		assert.Equal(t, "tok", res.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, users, sessions := newTestAuth()
		users.On("GetByUsername", mock.Anything, "alice").Return(user, nil).Once()

		_, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "password2"})
		assert.ErrorIs(t, err, apperr.Auth)
		assert.ErrorIs(t, err, ErrInvalidCredential)
		sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, users, _ := newTestAuth()
		users.On("GetByUsername", mock.Anything, "bob").Return(nil, repositories.ErrUserNotFound).Once()

		_, err := svc.Login(context.Background(), LoginRequest{Username: "bob", Password: "password1"})
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("session store down", func(t *testing.T) {
		svc, users, sessions := newTestAuth()
		users.On("GetByUsername", mock.Anything, "alice").Return(user, nil).Once()
		sessions.On("Create", mock.Anything, user.ID, "alice").Return("", assert.AnError).Once()

		_, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "password1"})
		assert.ErrorIs(t, err, apperr.Upstream)
	})
}

func TestAuthenticate(t *testing.T) {
	svc, _, sessions := newTestAuth()
	sess := models.Session{UserID: uuid.New(), Username: "alice"}

	_, err := svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, apperr.Auth)

	sessions.On("Validate", mock.Anything, "good").Return(sess, true, nil).Once()
	got, err := svc.Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)

	sessions.On("Validate", mock.Anything, "gone").Return(nil, false, nil).Once()
	_, err = svc.Authenticate(context.Background(), "gone")
	assert.ErrorIs(t, err, apperr.Auth)

	sessions.On("Validate", mock.Anything, "boom").Return(nil, false, assert.AnError).Once()
	_, err = svc.Authenticate(context.Background(), "boom")
	assert.ErrorIs(t, err, apperr.Upstream)
}

func TestLogoutAndUserExists(t *testing.T) {
	svc, users, sessions := newTestAuth()
	sessions.On("Invalidate", mock.Anything, "tok").Return(nil).Once()
	require.NoError(t, svc.Logout(context.Background(), "tok"))

	users.On("Exists", mock.Anything, "alice").Return(true, nil).Once()
	ok, err := svc.UserExists(context.Background(), " alice ")
	require.NoError(t, err)
	assert.True(t, ok)
}
