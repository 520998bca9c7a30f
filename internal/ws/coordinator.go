package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chatstream/internal/apperr"
	"chatstream/internal/models"
	"chatstream/internal/observability"
	"chatstream/internal/platform/logging"
	"chatstream/internal/repositories"
)

// Conn is the part of *websocket.Conn the coordinator drives.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// RateLimiter decides whether a sender may post another message.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// State of a chat session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateSubscribed
	StateRelaying
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateRelaying:
		return "relaying"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error frame codes.
const (
	CodeValidation  = "validation"
	CodeStorage     = "storage"
	CodeRateLimited = "rate_limited"
	CodeLagged      = "lagged"
	CodeInternal    = "internal"
)

// CoordinatorConfig tunes keepalive and frame limits.
type CoordinatorConfig struct {
	// MaxFrameBytes is raised to fit MaxContentBytes of fully escaped JSON,
	// so oversized content reaches validation instead of the read limit.
	MaxFrameBytes   int64
	MaxContentBytes int
	PongWait        time.Duration
	WriteWait       time.Duration
	PingPeriod      time.Duration
	OutboundBuffer  int
}

// DefaultCoordinatorConfig pings every 54s and expects a pong within 60s.
var DefaultCoordinatorConfig = CoordinatorConfig{
	MaxFrameBytes:   16 * 1024,
	MaxContentBytes: repositories.DefaultLogLimits.MaxContentBytes,
	PongWait:        60 * time.Second,
	WriteWait:       10 * time.Second,
	PingPeriod:      54 * time.Second,
	OutboundBuffer:  16,
}

// frameEnvelope covers the JSON around the content field of an inbound frame.
const frameEnvelope = 1024

// readLimitFor is the smallest frame limit that still admits a frame whose
// content is maxContent bytes with every byte escaped as \u00XX.
func readLimitFor(maxContent int) int64 {
	return int64(maxContent)*6 + frameEnvelope
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	d := DefaultCoordinatorConfig
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = d.MaxContentBytes
	}
	if floor := readLimitFor(c.MaxContentBytes); c.MaxFrameBytes < floor {
		c.MaxFrameBytes = floor
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = d.OutboundBuffer
	}
	return c
}

// Coordinator runs one authenticated participant's session on one chat. A
// forward task turns inbound frames into log appends and live publishes; a
// relay task is the only writer on the connection.
type Coordinator struct {
	conn     Conn
	chatID   uuid.UUID
	session  models.Session
	messages repositories.MessageLog
	live     LiveChannel
	limiter  RateLimiter
	cfg      CoordinatorConfig
	log      *zap.Logger

	state    atomic.Int32
	outbound chan []byte
}

// NewCoordinator builds a coordinator for an already authenticated session.
// limiter may be nil.
func NewCoordinator(conn Conn, chatID uuid.UUID, sess models.Session, messages repositories.MessageLog, live LiveChannel, limiter RateLimiter, cfg CoordinatorConfig, log *zap.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		conn:     conn,
		chatID:   chatID,
		session:  sess,
		messages: messages,
		live:     live,
		limiter:  limiter,
		cfg:      cfg,
		log:      logging.OrNop(log).With(zap.String("chat_id", chatID.String()), zap.String("user_id", sess.UserID.String())),
		outbound: make(chan []byte, cfg.OutboundBuffer),
	}
	c.setState(StateAuthenticating)
	return c
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	c.log.Debug("chat session state", zap.Stringer("state", s))
}

// Run subscribes to the chat and blocks until the session ends. Whichever task
// stops first cancels the other; the subscription is released only after both
// have returned. The returned error is the reason the session ended, nil for a
// normal client close.
func (c *Coordinator) Run(ctx context.Context) error {
	sub := c.live.Subscribe(c.chatID)
	c.setState(StateSubscribed)

	ctx, cancel := context.WithCancel(ctx)
	var closeOnce sync.Once
	stop := func() {
		cancel()
		closeOnce.Do(func() { _ = c.conn.Close() })
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	finish := func(err error) {
		errOnce.Do(func() { firstErr = err })
		stop()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		finish(c.forward(ctx))
	}()
	go func() {
		defer wg.Done()
		finish(c.relay(ctx, sub))
	}()
	c.setState(StateRelaying)

	<-ctx.Done()
	c.setState(StateClosing)
	stop()
	wg.Wait()
	c.live.Unsubscribe(sub)
	c.setState(StateClosed)

	if firstErr == nil {
		firstErr = context.Cause(ctx)
		if errors.Is(firstErr, context.Canceled) {
			firstErr = nil
		}
	}
	if websocket.IsCloseError(firstErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	return firstErr
}

func (c *Coordinator) forward(ctx context.Context) error {
	c.conn.SetReadLimit(c.cfg.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.handleFrame(ctx, data)
	}
}

func (c *Coordinator) handleFrame(ctx context.Context, data []byte) {
	var in models.InboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.sendError(ctx, CodeValidation, "malformed frame")
		return
	}

	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, c.session.UserID.String())
		if err != nil {
			c.log.Warn("rate limiter unavailable, allowing message", zap.Error(err))
		} else if !allowed {
			c.sendError(ctx, CodeRateLimited, "too many messages")
			return
		}
	}

	msg, err := c.appendMessage(ctx, in.Content)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindValidation:
			observability.IncMessageAppended("validation")
			c.sendError(ctx, CodeValidation, errorText(err))
		case apperr.KindStorage:
			observability.IncMessageAppended("storage")
			c.log.Error("append message failed", zap.Error(err))
			c.sendError(ctx, CodeStorage, "message was not stored")
		default:
			observability.IncMessageAppended("error")
			c.log.Error("append message failed", zap.Error(err))
			c.sendError(ctx, CodeInternal, "message was not stored")
		}
		return
	}
	observability.IncMessageAppended("ok")

	// The message is durable at this point; a failed publish only costs live delivery.
	if err := c.live.Publish(ctx, c.chatID, msg); err != nil {
		c.log.Warn("live publish failed", zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
}

func (c *Coordinator) appendMessage(ctx context.Context, content string) (models.Message, error) {
	ctx, span := observability.Tracer().Start(ctx, "message.append")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", c.chatID.String()))

	msg, err := c.messages.Append(ctx, c.chatID, c.session.UserID.String(), content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return models.Message{}, err
	}
	span.SetAttributes(attribute.String("message.id", msg.ID.String()))
	return msg, nil
}

func errorText(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

func (c *Coordinator) sendError(ctx context.Context, code, message string) {
	payload, err := json.Marshal(models.ErrorFrame{Type: models.FrameError, Code: code, Message: message})
	if err != nil {
		return
	}
	select {
	case c.outbound <- payload:
	case <-ctx.Done():
	}
}

func (c *Coordinator) relay(ctx context.Context, sub *Subscription) error {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return c.endSubscription(sub.Err())
		case msg := <-sub.C():
			payload, err := json.Marshal(models.NewMessageFrame(msg))
			if err != nil {
				c.log.Error("encode message frame", zap.Error(err))
				continue
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return err
			}
		case payload := <-c.outbound:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// endSubscription tells the client why live delivery stopped.
func (c *Coordinator) endSubscription(reason error) error {
	switch {
	case errors.Is(reason, ErrSlowConsumer):
		payload, _ := json.Marshal(models.ErrorFrame{Type: models.FrameError, Code: CodeLagged, Message: "live delivery fell behind, reload history"})
		_ = c.write(websocket.TextMessage, payload)
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lagged"))
	case errors.Is(reason, ErrHubClosed):
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	}
	return reason
}

func (c *Coordinator) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}
