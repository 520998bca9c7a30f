package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatstream/internal/apperr"
	"chatstream/internal/models"
	"chatstream/internal/platform/logging"
)

const badgerAppendRetries = 3

// BadgerLog is an embedded message log. Keys are "msg:{chat}:{id}" so a
// prefix iterator walks a chat in id order; "head:{chat}" holds the last id.
type BadgerLog struct {
	db     *badger.DB
	limits LogLimits
	log    *zap.Logger
	now    func() time.Time

	// appends to one chat are serialised in-process; different chats never contend.
	locks sync.Map
}

type badgerRecord struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

// NewBadgerLog constructs a BadgerLog over an opened database.
func NewBadgerLog(db *badger.DB, limits LogLimits, log *zap.Logger) *BadgerLog {
	return &BadgerLog{db: db, limits: limits.withDefaults(), log: logging.OrNop(log), now: time.Now}
}

// OpenBadger opens (or creates) a badger directory with quiet internal logging.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger failed: %w", err)
	}
	return db, nil
}

func msgPrefix(chatID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", chatID))
}

func msgKey(chatID uuid.UUID, id models.MessageID) []byte {
	return append(msgPrefix(chatID), id...)
}

func headKey(chatID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("head:%s", chatID))
}

func (l *BadgerLog) chatLock(chatID uuid.UUID) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(chatID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Append assigns the next id after the chat head and writes record and head atomically.
func (l *BadgerLog) Append(ctx context.Context, chatID uuid.UUID, senderID string, content string) (models.Message, error) {
	if err := validSender(senderID); err != nil {
		return models.Message{}, err
	}
	if err := l.limits.ValidateContent(content); err != nil {
		return models.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, apperr.StorageError("message_log.append", err)
	}

	value, err := json.Marshal(badgerRecord{SenderID: senderID, Content: content})
	if err != nil {
		return models.Message{}, apperr.StorageError("message_log.append", err)
	}

	mu := l.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	var id models.MessageID
	for attempt := 0; attempt < badgerAppendRetries; attempt++ {
		err = l.db.Update(func(txn *badger.Txn) error {
			last, err := readHead(txn, chatID)
			if err != nil {
				return err
			}
			id = models.Next(last, l.now())
			if err := txn.Set(msgKey(chatID, id), value); err != nil {
				return err
			}
			return txn.Set(headKey(chatID), []byte(id))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		l.log.Debug("badger append conflict, retrying", zap.String("chat_id", chatID.String()), zap.Int("attempt", attempt+1))
	}
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

func readHead(txn *badger.Txn, chatID uuid.UUID) (models.MessageID, error) {
	item, err := txn.Get(headKey(chatID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return models.MessageID(raw), nil
}

// Range walks the chat prefix forward from start, stopping past end or at the limit.
func (l *BadgerLog) Range(ctx context.Context, chatID uuid.UUID, start, end *models.MessageID, limit int) ([]models.Message, error) {
	if emptyRange(start, end) {
		return []models.Message{}, nil
	}
	limit = l.limits.ClampLimit(limit)
	prefix := msgPrefix(chatID)
	msgs := make([]models.Message, 0, limit)

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if start != nil {
			seek = msgKey(chatID, *start)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if len(msgs) == limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := models.MessageID(item.Key()[len(prefix):])
			if end != nil && id > *end {
				break
			}
			msg, err := decodeBadgerItem(chatID, id, item)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.StorageError("message_log.range", err)
	}
	return msgs, nil
}

// Last resolves the chat head and loads that record.
func (l *BadgerLog) Last(ctx context.Context, chatID uuid.UUID) (models.Message, bool, error) {
	var (
		msg   models.Message
		found bool
	)
	err := l.db.View(func(txn *badger.Txn) error {
		head, err := readHead(txn, chatID)
		if err != nil || head == "" {
			return err
		}
		item, err := txn.Get(msgKey(chatID, head))
		if err != nil {
			return err
		}
		msg, err = decodeBadgerItem(chatID, head, item)
		found = err == nil
		return err
	})
	if err != nil {
		return models.Message{}, false, apperr.StorageError("message_log.last", err)
	}
	return msg, found, nil
}

func decodeBadgerItem(chatID uuid.UUID, id models.MessageID, item *badger.Item) (models.Message, error) {
	var rec badgerRecord
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  rec.SenderID,
		Content:   rec.Content,
		Timestamp: id.Time(),
	}, nil
}
