package repositories

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"chatstream/internal/apperr"
	"chatstream/internal/models"
)

// MessageLog is the durable, append-only, per-chat ordered store of messages.
// Range results are earliest-first and both bounds are inclusive.
type MessageLog interface {
	Append(ctx context.Context, chatID uuid.UUID, senderID string, content string) (models.Message, error)
	Range(ctx context.Context, chatID uuid.UUID, start, end *models.MessageID, limit int) ([]models.Message, error)
	// Last reports false when the chat has no messages.
	Last(ctx context.Context, chatID uuid.UUID) (models.Message, bool, error)
}

// LogLimits bounds message size and range responses.
type LogLimits struct {
	MaxContentBytes int
	DefaultLimit    int
	MaxLimit        int
}

// DefaultLogLimits mirrors the default configuration.
var DefaultLogLimits = LogLimits{MaxContentBytes: 4096, DefaultLimit: 20, MaxLimit: 200}

func (l LogLimits) withDefaults() LogLimits {
	if l.MaxContentBytes <= 0 {
		l.MaxContentBytes = DefaultLogLimits.MaxContentBytes
	}
	if l.DefaultLimit <= 0 {
		l.DefaultLimit = DefaultLogLimits.DefaultLimit
	}
	if l.MaxLimit <= 0 {
		l.MaxLimit = DefaultLogLimits.MaxLimit
	}
	if l.DefaultLimit > l.MaxLimit {
		l.DefaultLimit = l.MaxLimit
	}
	return l
}

// ValidateContent rejects non UTF-8 or oversized content. Empty content is a
// valid message.
func (l LogLimits) ValidateContent(content string) error {
	const op = "message_log.append"
	if !utf8.ValidString(content) {
		return apperr.Invalid(op, "content is not valid UTF-8")
	}
	if len(content) > l.MaxContentBytes {
		return apperr.Invalid(op, "content exceeds maximum size")
	}
	return nil
}

// ClampLimit applies the default for non-positive values and the hard cap.
func (l LogLimits) ClampLimit(limit int) int {
	if limit <= 0 {
		return l.DefaultLimit
	}
	if limit > l.MaxLimit {
		return l.MaxLimit
	}
	return limit
}

func validSender(senderID string) error {
	if strings.TrimSpace(senderID) == "" {
		return apperr.Invalid("message_log.append", "sender is required")
	}
	return nil
}

// emptyRange reports whether start is after end, which can never match.
func emptyRange(start, end *models.MessageID) bool {
	return start != nil && end != nil && *start > *end
}
