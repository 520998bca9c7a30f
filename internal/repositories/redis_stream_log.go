package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatstream/internal/apperr"
	"chatstream/internal/models"
	"chatstream/internal/platform/logging"
)

// RedisStreamLog keeps one Redis stream per chat. Redis assigns stream ids,
// which guarantees strictly increasing ids in append order.
type RedisStreamLog struct {
	client *redis.Client
	limits LogLimits
	log    *zap.Logger
}

// NewRedisStreamLog constructs a RedisStreamLog.
func NewRedisStreamLog(client *redis.Client, limits LogLimits, log *zap.Logger) *RedisStreamLog {
	return &RedisStreamLog{client: client, limits: limits.withDefaults(), log: logging.OrNop(log)}
}

func streamKey(chatID uuid.UUID) string {
	return fmt.Sprintf("chat:%s:log", chatID)
}

// Append adds a message with XADD and returns the stored record.
func (l *RedisStreamLog) Append(ctx context.Context, chatID uuid.UUID, senderID string, content string) (models.Message, error) {
	if err := validSender(senderID); err != nil {
		return models.Message{}, err
	}
	if err := l.limits.ValidateContent(content); err != nil {
		return models.Message{}, err
	}

	rawID, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(chatID),
		ID:     "*",
		Values: map[string]interface{}{
			"sender_id": senderID,
			"content":   content,
		},
	}).Result()
	if err != nil {
		return models.Message{}, apperr.StorageError("message_log.append", err)
	}

	id, err := models.ParseMessageID(rawID)
	if err != nil {
		return models.Message{}, apperr.StorageError("message_log.append", err)
	}
	return models.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: id.Time(),
	}, nil
}

// Range reads an inclusive id range with XRANGE.
func (l *RedisStreamLog) Range(ctx context.Context, chatID uuid.UUID, start, end *models.MessageID, limit int) ([]models.Message, error) {
	if emptyRange(start, end) {
		return []models.Message{}, nil
	}
	from, to := "-", "+"
	if start != nil {
		from = start.StreamID()
	}
	if end != nil {
		to = end.StreamID()
	}

	entries, err := l.client.XRangeN(ctx, streamKey(chatID), from, to, int64(l.limits.ClampLimit(limit))).Result()
	if err != nil {
		return nil, apperr.StorageError("message_log.range", err)
	}
	return l.decodeEntries(chatID, entries)
}

// Last reads the newest entry with XREVRANGE COUNT 1.
func (l *RedisStreamLog) Last(ctx context.Context, chatID uuid.UUID) (models.Message, bool, error) {
	entries, err := l.client.XRevRangeN(ctx, streamKey(chatID), "+", "-", 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Message{}, false, nil
		}
		return models.Message{}, false, apperr.StorageError("message_log.last", err)
	}
	if len(entries) == 0 {
		return models.Message{}, false, nil
	}
	msgs, err := l.decodeEntries(chatID, entries)
	if err != nil {
		return models.Message{}, false, err
	}
	return msgs[0], true, nil
}

func (l *RedisStreamLog) decodeEntries(chatID uuid.UUID, entries []redis.XMessage) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		id, err := models.ParseMessageID(entry.ID)
		if err != nil {
			return nil, apperr.StorageError("message_log.decode", err)
		}
		sender, _ := entry.Values["sender_id"].(string)
		content, _ := entry.Values["content"].(string)
		if sender == "" {
			l.log.Warn("stream entry without sender", zap.String("chat_id", chatID.String()), zap.String("entry_id", entry.ID))
		}
		msgs = append(msgs, models.Message{
			ID:        id,
			ChatID:    chatID,
			SenderID:  sender,
			Content:   content,
			Timestamp: id.Time(),
		})
	}
	return msgs, nil
}

// Ping is used by health checks.
func (l *RedisStreamLog) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.client.Ping(ctx).Err()
}
