package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatstream/internal/apperr"
	"chatstream/internal/middleware"
	"chatstream/internal/platform/logging"
	"chatstream/internal/services"
	"chatstream/internal/telemetry"
)

// AuthHandler serves signup, login and session endpoints.
type AuthHandler struct {
	responder
	auth       *services.AuthService
	audit      *telemetry.AuditEmitter
	sessionTTL time.Duration
}

func NewAuthHandler(auth *services.AuthService, audit *telemetry.AuditEmitter, sessionTTL time.Duration, secureCookie bool, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		responder:  responder{log: logging.OrNop(log), secureCookie: secureCookie},
		auth:       auth,
		audit:      audit,
		sessionTTL: sessionTTL,
	}
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req services.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.auth.Signup(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	middleware.SetSessionCookie(c, res.Token, h.sessionTTL, h.secureCookie)
	c.JSON(http.StatusCreated, gin.H{"user_id": res.User.ID, "username": res.User.Username})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuth {
			h.audit.Emit(c.Request.Context(), telemetry.AuditEvent{
				Level:     "WARN",
				Action:    "auth.login_failed",
				Text:      "failed login",
				RequestID: requestIDFromContext(c),
				Attrs:     map[string]string{"username": req.Username},
			})
		}
		h.writeError(c, err)
		return
	}

	userID := res.User.ID.String()
	h.audit.Emit(c.Request.Context(), telemetry.AuditEvent{
		Level:     "INFO",
		Action:    "auth.login",
		Text:      "user logged in",
		RequestID: requestIDFromContext(c),
		UserID:    &userID,
	})
	middleware.SetSessionCookie(c, res.Token, h.sessionTTL, h.secureCookie)
	c.JSON(http.StatusCreated, gin.H{"user_id": res.User.ID, "username": res.User.Username})
}

// Logout drops the session and its cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), middleware.SessionToken(c)); err != nil {
		h.writeError(c, err)
		return
	}
	middleware.ClearSessionCookie(c, h.secureCookie)
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) Session(c *gin.Context) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Session is valid",
		"user_id":  sess.UserID,
		"username": sess.Username,
	})
}

// UserExists answers 200 for a registered username and 404 otherwise.
func (h *AuthHandler) UserExists(c *gin.Context) {
	username := c.Param("username")
	exists, err := h.auth.UserExists(c.Request.Context(), username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "exists": true})
}
