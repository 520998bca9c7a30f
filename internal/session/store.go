// Package session keeps opaque login sessions in Redis hashes.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatstream/internal/models"
	"chatstream/internal/platform/logging"
)

// DefaultTTL is how long a session survives without activity.
const DefaultTTL = 24 * time.Hour

// Store validates and manages session tokens.
type Store interface {
	Create(ctx context.Context, userID uuid.UUID, username string) (string, error)
	// Validate reports false for unknown or expired tokens.
	Validate(ctx context.Context, token string) (models.Session, bool, error)
	Invalidate(ctx context.Context, token string) error
}

// RedisStore implements Store with one hash per session.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
	now func() time.Time
}

// NewRedisStore constructs a RedisStore. A non-positive ttl falls back to DefaultTTL.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, log: logging.OrNop(log), now: time.Now}
}

// touchScript refreshes a session only while it still exists, so a token that
// expires between the read and the refresh is not brought back as a stub.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'last_activity', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

func key(token string) string { return fmt.Sprintf("session:%s", token) }

func (s *RedisStore) Create(ctx context.Context, userID uuid.UUID, username string) (string, error) {
	token := uuid.NewString()
	now := s.now().UTC().Format(time.RFC3339Nano)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key(token), map[string]interface{}{
		"user_id":       userID.String(),
		"username":      username,
		"created_at":    now,
		"last_activity": now,
	})
	pipe.Expire(ctx, key(token), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Validate loads the session and slides its expiry forward.
func (s *RedisStore) Validate(ctx context.Context, token string) (models.Session, bool, error) {
	if token == "" {
		return models.Session{}, false, nil
	}
	fields, err := s.rdb.HGetAll(ctx, key(token)).Result()
	if err != nil {
		return models.Session{}, false, fmt.Errorf("validate session: %w", err)
	}
	if len(fields) == 0 {
		return models.Session{}, false, nil
	}

	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		s.log.Warn("dropping corrupt session", zap.String("field", "user_id"), zap.Error(err))
		_ = s.rdb.Del(ctx, key(token)).Err()
		return models.Session{}, false, nil
	}
	sess := models.Session{
		Token:    token,
		UserID:   userID,
		Username: fields["username"],
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])

	sess.LastActivity = s.now().UTC()
	touched, err := touchScript.Run(ctx, s.rdb, []string{key(token)},
		sess.LastActivity.Format(time.RFC3339Nano), s.ttl.Milliseconds()).Int()
	if err != nil {
		return models.Session{}, false, fmt.Errorf("refresh session: %w", err)
	}
	if touched == 0 {
		return models.Session{}, false, nil
	}
	return sess, true, nil
}

func (s *RedisStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, key(token)).Err(); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}
