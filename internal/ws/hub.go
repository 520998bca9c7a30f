package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatstream/internal/models"
	"chatstream/internal/observability"
	"chatstream/internal/platform/logging"
)

// DefaultSubscriberBuffer is the per-subscription queue length.
const DefaultSubscriberBuffer = 64

var (
	// ErrSlowConsumer ends a subscription whose queue filled up.
	ErrSlowConsumer = errors.New("subscriber too slow")
	// ErrHubClosed ends every subscription on shutdown.
	ErrHubClosed = errors.New("live channel closed")
)

// LiveChannel fans messages out to the live subscribers of a chat. Delivery is
// best effort and never persisted; the message log is the source of truth.
type LiveChannel interface {
	Subscribe(chatID uuid.UUID) *Subscription
	Publish(ctx context.Context, chatID uuid.UUID, msg models.Message) error
	Unsubscribe(sub *Subscription)
}

// Subscription receives every message published to its chat after it was created.
type Subscription struct {
	chatID uuid.UUID
	ch     chan models.Message
	done   chan struct{}
	once   sync.Once
	err    error
}

func newSubscription(chatID uuid.UUID, buffer int) *Subscription {
	return &Subscription{
		chatID: chatID,
		ch:     make(chan models.Message, buffer),
		done:   make(chan struct{}),
	}
}

func (s *Subscription) ChatID() uuid.UUID { return s.chatID }

// C yields messages in publish order.
func (s *Subscription) C() <-chan models.Message { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: nil after Unsubscribe, ErrSlowConsumer
// or ErrHubClosed otherwise. Only meaningful once Done is closed.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

func (s *Subscription) end(reason error) {
	s.once.Do(func() {
		s.err = reason
		close(s.done)
	})
}

type room struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Hub is the in-process LiveChannel.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*room
	closed bool
	buffer int
	log    *zap.Logger
}

// NewHub creates an empty hub. A non-positive buffer uses DefaultSubscriberBuffer.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]*room),
		buffer: buffer,
		log:    logging.OrNop(log),
	}
}

// Subscribe registers a new subscription for chatID. After Shutdown the
// returned subscription is already ended.
func (h *Hub) Subscribe(chatID uuid.UUID) *Subscription {
	sub := newSubscription(chatID, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.end(ErrHubClosed)
		return sub
	}
	r, ok := h.rooms[chatID]
	if !ok {
		r = &room{subs: make(map[*Subscription]struct{})}
		h.rooms[chatID] = r
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()
	observability.IncLiveSubscribers()
	return sub
}

// Unsubscribe is idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.remove(sub, nil)
}

func (h *Hub) remove(sub *Subscription, reason error) {
	h.mu.Lock()
	if r, ok := h.rooms[sub.chatID]; ok {
		r.mu.Lock()
		if _, present := r.subs[sub]; present {
			delete(r.subs, sub)
			observability.DecLiveSubscribers()
		}
		if len(r.subs) == 0 {
			delete(h.rooms, sub.chatID)
		}
		r.mu.Unlock()
	}
	h.mu.Unlock()
	sub.end(reason)
}

// Publish enqueues msg on every current subscription of chatID. Publishes to
// one chat are serialised so every subscriber sees them in the same order. A
// subscriber whose queue is full is dropped instead of blocking the others.
func (h *Hub) Publish(ctx context.Context, chatID uuid.UUID, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	r, ok := h.rooms[chatID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	var dropped []*Subscription
	r.mu.Lock()
	for sub := range r.subs {
		select {
		case sub.ch <- msg:
		default:
			dropped = append(dropped, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range dropped {
		h.log.Warn("dropping slow live subscriber", zap.String("chat_id", chatID.String()))
		observability.IncLiveDropped()
		h.remove(sub, ErrSlowConsumer)
	}
	return nil
}

// Count returns the number of live subscriptions for chatID.
func (h *Hub) Count(chatID uuid.UUID) int {
	h.mu.RLock()
	r, ok := h.rooms[chatID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Shutdown ends every subscription and rejects new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[uuid.UUID]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		for sub := range r.subs {
			delete(r.subs, sub)
			observability.DecLiveSubscribers()
			sub.end(ErrHubClosed)
		}
		r.mu.Unlock()
	}
}
