package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatstream/internal/apperr"
	"chatstream/internal/middleware"
)

// responder turns service errors into JSON responses.
type responder struct {
	log          *zap.Logger
	secureCookie bool
}

func (r responder) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch apperr.KindOf(err) {
	case apperr.KindAuth:
		middleware.ClearSessionCookie(c, r.secureCookie)
		status, msg = http.StatusUnauthorized, errorText(err)
	case apperr.KindValidation:
		status, msg = http.StatusBadRequest, errorText(err)
	case apperr.KindNotFound:
		status, msg = http.StatusNotFound, "not found"
	case apperr.KindForbidden:
		status, msg = http.StatusForbidden, "forbidden"
	case apperr.KindStorage:
		msg = "storage unavailable"
	case apperr.KindUpstream:
		status, msg = http.StatusBadGateway, "upstream unavailable"
	}
	if status >= http.StatusInternalServerError {
		r.log.Error("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

func errorText(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
