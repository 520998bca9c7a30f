package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatstream/internal/apperr"
	"chatstream/internal/models"
)

// SessionCookie carries the opaque session token.
const SessionCookie = "session_id"

const (
	userIDKey   = "userID"
	usernameKey = "username"
	sessionKey  = "session"
)

// Authenticator resolves a session token to its session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Session, error)
}

// AuthMiddleware requires a valid session from the session_id cookie or a
// bearer Authorization header.
func AuthMiddleware(auth Authenticator, secureCookie bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
			return
		}

		sess, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindUpstream {
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "session service unavailable"})
				return
			}
			ClearSessionCookie(c, secureCookie)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(userIDKey, sess.UserID)
		c.Set(usernameKey, sess.Username)
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// SessionToken returns the cookie token, falling back to a bearer header.
func SessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// CurrentSession is the session stored by AuthMiddleware.
func CurrentSession(c *gin.Context) (models.Session, bool) {
	val, ok := c.Get(sessionKey)
	if !ok {
		return models.Session{}, false
	}
	sess, ok := val.(models.Session)
	return sess, ok
}

// UserID is the authenticated user, or uuid.Nil outside AuthMiddleware.
func UserID(c *gin.Context) uuid.UUID {
	if val, ok := c.Get(userIDKey); ok {
		if id, ok := val.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func SetSessionCookie(c *gin.Context, token string, ttl time.Duration, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteNoneMode,
	})
}

func ClearSessionCookie(c *gin.Context, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteNoneMode,
	})
}
