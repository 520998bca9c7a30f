package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chatstream/internal/apperr"
	"chatstream/internal/models"
	"chatstream/internal/platform/logging"
	"chatstream/internal/repositories"
	"chatstream/internal/session"
)

var ErrInvalidCredential = errors.New("invalid username or password")

type SignupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResult is a fresh session for an authenticated user.
type AuthResult struct {
	Token string
	User  models.User
}

// AuthService handles accounts and sessions.
type AuthService struct {
	users    repositories.UserRepository
	sessions session.Store
	cost     int
	log      *zap.Logger
}

func NewAuthService(users repositories.UserRepository, sessions session.Store, log *zap.Logger) *AuthService {
	return &AuthService{users: users, sessions: sessions, cost: bcrypt.DefaultCost, log: logging.OrNop(log)}
}

func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (AuthResult, error) {
	const op = "auth.signup"
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		return AuthResult{}, apperr.ValidationError(op, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return AuthResult{}, apperr.ValidationError(op, err)
	}

	user, err := s.users.Create(ctx, req.Username, string(hash))
	if errors.Is(err, repositories.ErrUsernameTaken) {
		return AuthResult{}, apperr.ValidationError(op, err)
	}
	if err != nil {
		return AuthResult{}, apperr.UpstreamError(op, err)
	}
	return s.startSession(ctx, op, user)
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	const op = "auth.login"
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		return AuthResult{}, apperr.ValidationError(op, err)
	}

	user, err := s.users.GetByUsername(ctx, req.Username)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return AuthResult{}, apperr.AuthError(op, ErrInvalidCredential)
	}
	if err != nil {
		return AuthResult{}, apperr.UpstreamError(op, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PassHash), []byte(req.Password)); err != nil {
		return AuthResult{}, apperr.AuthError(op, ErrInvalidCredential)
	}
	return s.startSession(ctx, op, user)
}

func (s *AuthService) startSession(ctx context.Context, op string, user models.User) (AuthResult, error) {
	token, err := s.sessions.Create(ctx, user.ID, user.Username)
	if err != nil {
		return AuthResult{}, apperr.UpstreamError(op, err)
	}
	s.log.Info("session started", zap.String("user_id", user.ID.String()))
	return AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Invalidate(ctx, token); err != nil {
		return apperr.UpstreamError("auth.logout", err)
	}
	return nil
}

// Authenticate resolves a session token. Unknown tokens are an AuthError.
func (s *AuthService) Authenticate(ctx context.Context, token string) (models.Session, error) {
	const op = "auth.authenticate"
	if token == "" {
		return models.Session{}, apperr.AuthError(op, errors.New("missing session"))
	}
	sess, ok, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return models.Session{}, apperr.UpstreamError(op, err)
	}
	if !ok {
		return models.Session{}, apperr.AuthError(op, errors.New("invalid or expired session"))
	}
	return sess, nil
}

// UserExists reports whether a username is registered.
func (s *AuthService) UserExists(ctx context.Context, username string) (bool, error) {
	exists, err := s.users.Exists(ctx, strings.TrimSpace(username))
	if err != nil {
		return false, apperr.UpstreamError("auth.user_exists", err)
	}
	return exists, nil
}
