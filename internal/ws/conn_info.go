package ws

import (
	"time"

	"github.com/google/uuid"

	"chatstream/internal/observability"
)

// ConnInfo identifies a live connection in lifecycle events.
type ConnInfo struct {
	ConnID      string
	ChatID      uuid.UUID
	UserID      uuid.UUID
	Username    string
	Meta        observability.RequestMeta
	ConnectedAt time.Time
}
