package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatstream/internal/models"
	"chatstream/internal/platform/logging"
)

const livePattern = "chat:*:live"

func liveChannelName(chatID uuid.UUID) string {
	return fmt.Sprintf("chat:%s:live", chatID)
}

// RedisBridge is a LiveChannel shared by every process attached to the same
// Redis. Publish goes through Redis pub/sub; Run feeds received messages into
// the local Hub, which owns the subscriptions.
type RedisBridge struct {
	hub   *Hub
	rdb   *redis.Client
	log   *zap.Logger
	ready chan struct{}
}

// NewRedisBridge constructs a RedisBridge. Run must be started for local
// subscribers to see any message.
func NewRedisBridge(hub *Hub, rdb *redis.Client, log *zap.Logger) *RedisBridge {
	return &RedisBridge{hub: hub, rdb: rdb, log: logging.OrNop(log), ready: make(chan struct{})}
}

func (b *RedisBridge) Subscribe(chatID uuid.UUID) *Subscription {
	return b.hub.Subscribe(chatID)
}

func (b *RedisBridge) Unsubscribe(sub *Subscription) {
	b.hub.Unsubscribe(sub)
}

// Publish sends msg to every process, this one included.
func (b *RedisBridge) Publish(ctx context.Context, chatID uuid.UUID, msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, liveChannelName(chatID), payload).Err(); err != nil {
		return fmt.Errorf("publish live message: %w", err)
	}
	return nil
}

// Ready is closed once the pattern subscription is confirmed.
func (b *RedisBridge) Ready() <-chan struct{} { return b.ready }

// Run relays pub/sub traffic into the local hub until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, livePattern)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", livePattern, err)
	}
	close(b.ready)
	b.log.Info("live bridge subscribed", zap.String("pattern", livePattern))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, m)
		}
	}
}

func (b *RedisBridge) dispatch(ctx context.Context, m *redis.Message) {
	var msg models.Message
	if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
		b.log.Warn("dropping undecodable live payload", zap.String("channel", m.Channel), zap.Error(err))
		return
	}
	if raw := strings.TrimSuffix(strings.TrimPrefix(m.Channel, "chat:"), ":live"); raw != msg.ChatID.String() {
		b.log.Warn("live payload chat mismatch", zap.String("channel", m.Channel), zap.String("chat_id", msg.ChatID.String()))
		return
	}
	if err := b.hub.Publish(ctx, msg.ChatID, msg); err != nil {
		b.log.Debug("live dispatch skipped", zap.String("chat_id", msg.ChatID.String()), zap.Error(err))
	}
}
