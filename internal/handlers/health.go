package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatstream/internal/platform/logging"
)

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Health reports 503 as soon as one dependency fails its ping.
func Health(deps map[string]Pinger, log *zap.Logger) gin.HandlerFunc {
	log = logging.OrNop(log)
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{}
		healthy := true
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				status[name] = "down"
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dependencies": status})
	}
}
