package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatstream/internal/apperr"
	"chatstream/internal/mocks"
	"chatstream/internal/models"
	"chatstream/internal/repositories"
)

type written struct {
	kind int
	data []byte
}

// fakeConn is an in-memory websocket peer.
type fakeConn struct {
	in       chan []byte
	out      chan written
	closed   chan struct{}
	peerGone chan struct{}
	once     sync.Once
	peerOnce sync.Once
	limit    atomic.Int64
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 16),
		out:      make(chan written, 64),
		closed:   make(chan struct{}),
		peerGone: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.peerGone:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	select {
	case <-f.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case f.out <- written{kind: kind, data: data}:
		return nil
	case <-f.closed:
		return websocket.ErrCloseSent
	}
}

func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetReadLimit(n int64)              { f.limit.Store(n) }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	f.in <- b
}

// hangUp simulates the client closing the connection normally.
func (f *fakeConn) hangUp() {
	f.peerOnce.Do(func() { close(f.peerGone) })
}

func (f *fakeConn) next(t *testing.T) written {
	t.Helper()
	for {
		select {
		case w := <-f.out:
			if w.kind == websocket.PingMessage {
				continue
			}
			return w
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
			return written{}
		}
	}
}

func (f *fakeConn) assertSilent(t *testing.T) {
	t.Helper()
	select {
	case w := <-f.out:
		t.Fatalf("unexpected frame %s", w.data)
	case <-time.After(100 * time.Millisecond):
	}
}

type testSession struct {
	conn  *fakeConn
	coord *Coordinator
	done  chan error
}

func startSession(t *testing.T, hub *Hub, log repositories.MessageLog, limiter RateLimiter, chatID uuid.UUID) *testSession {
	t.Helper()
	conn := newFakeConn()
	sess := models.Session{UserID: uuid.New(), Username: "alice"}
	coord := NewCoordinator(conn, chatID, sess, log, hub, limiter, CoordinatorConfig{PongWait: time.Minute, PingPeriod: 50 * time.Second}, nil)
	s := &testSession{conn: conn, coord: coord, done: make(chan error, 1)}
	before := hub.Count(chatID)
	go func() { s.done <- coord.Run(context.Background()) }()
	require.Eventually(t, func() bool { return hub.Count(chatID) == before+1 }, time.Second, 5*time.Millisecond)
	t.Cleanup(func() { conn.hangUp() })
	return s
}

func (s *testSession) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func newBadgerMessageLog(t *testing.T) repositories.MessageLog {
	t.Helper()
	db, err := repositories.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repositories.NewBadgerLog(db, repositories.DefaultLogLimits, nil)
}

func decodeMessageFrame(t *testing.T, w written) models.MessageFrame {
	t.Helper()
	var frame models.MessageFrame
	require.NoError(t, json.Unmarshal(w.data, &frame))
	require.Equal(t, models.FrameMessage, frame.Type)
	return frame
}

func decodeErrorFrame(t *testing.T, w written) models.ErrorFrame {
	t.Helper()
	var frame models.ErrorFrame
	require.NoError(t, json.Unmarshal(w.data, &frame))
	require.Equal(t, models.FrameError, frame.Type)
	return frame
}

func TestCoordinatorRelaysToAllSubscribers(t *testing.T) {
	hub := NewHub(16, nil)
	log := newBadgerMessageLog(t)
	chatID := uuid.New()

	alice := startSession(t, hub, log, nil, chatID)
	bob := startSession(t, hub, log, nil, chatID)
	assert.Equal(t, StateRelaying, alice.coord.State())

	alice.conn.send(t, models.InboundFrame{Content: "hello"})

	fromAlice := decodeMessageFrame(t, alice.conn.next(t))
	fromBob := decodeMessageFrame(t, bob.conn.next(t))
	assert.Equal(t, fromAlice.MessageID, fromBob.MessageID)
	assert.Equal(t, "hello", fromBob.Content)
	assert.Equal(t, chatID.String(), fromBob.ChatID)
	assert.Equal(t, alice.coord.session.UserID.String(), fromBob.SenderID)

	stored, err := log.Range(context.Background(), chatID, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, fromAlice.MessageID, stored[0].ID)
}

func TestCoordinatorPreservesSendOrder(t *testing.T) {
	hub := NewHub(64, nil)
	log := newBadgerMessageLog(t)
	chatID := uuid.New()
	alice := startSession(t, hub, log, nil, chatID)
	bob := startSession(t, hub, log, nil, chatID)

	for _, content := range []string{"one", "two", "three"} {
		alice.conn.send(t, models.InboundFrame{Content: content})
	}

	var ids []models.MessageID
	for _, want := range []string{"one", "two", "three"} {
		frame := decodeMessageFrame(t, bob.conn.next(t))
		assert.Equal(t, want, frame.Content)
		ids = append(ids, frame.MessageID)
	}
	assert.Less(t, string(ids[0]), string(ids[1]))
	assert.Less(t, string(ids[1]), string(ids[2]))
}

func TestCoordinatorMalformedFrameOnlyErrorsSender(t *testing.T) {
	hub := NewHub(16, nil)
	messages := new(mocks.MessageLogMock)
	chatID := uuid.New()
	alice := startSession(t, hub, messages, nil, chatID)
	bob := startSession(t, hub, messages, nil, chatID)

	alice.conn.in <- []byte("{not json")

	frame := decodeErrorFrame(t, alice.conn.next(t))
	assert.Equal(t, CodeValidation, frame.Code)
	bob.conn.assertSilent(t)
	messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinatorValidationErrorKeepsSessionOpen(t *testing.T) {
	hub := NewHub(16, nil)
	log := newBadgerMessageLog(t)
	chatID := uuid.New()
	alice := startSession(t, hub, log, nil, chatID)

	alice.conn.send(t, models.InboundFrame{Content: strings.Repeat("x", repositories.DefaultLogLimits.MaxContentBytes+1)})
	frame := decodeErrorFrame(t, alice.conn.next(t))
	assert.Equal(t, CodeValidation, frame.Code)
	assert.Equal(t, readLimitFor(repositories.DefaultLogLimits.MaxContentBytes), alice.conn.limit.Load())

	alice.conn.send(t, models.InboundFrame{Content: "still here"})
	assert.Equal(t, "still here", decodeMessageFrame(t, alice.conn.next(t)).Content)
}

func TestCoordinatorConfigReadLimitFitsEscapedContent(t *testing.T) {
	cfg := CoordinatorConfig{MaxFrameBytes: 8192, MaxContentBytes: 4096}.withDefaults()
	assert.Equal(t, int64(4096*6+frameEnvelope), cfg.MaxFrameBytes)

	frame, err := json.Marshal(models.InboundFrame{Content: strings.Repeat("\x01", 4096)})
	require.NoError(t, err)
	assert.LessOrEqual(t, int64(len(frame)), cfg.MaxFrameBytes)

	cfg = CoordinatorConfig{MaxFrameBytes: 1 << 20, MaxContentBytes: 64}.withDefaults()
	assert.Equal(t, int64(1<<20), cfg.MaxFrameBytes)

	cfg = CoordinatorConfig{}.withDefaults()
	assert.Equal(t, repositories.DefaultLogLimits.MaxContentBytes, cfg.MaxContentBytes)
	assert.Equal(t, readLimitFor(cfg.MaxContentBytes), cfg.MaxFrameBytes)
}

func TestCoordinatorStorageErrorIsNotPublished(t *testing.T) {
	hub := NewHub(16, nil)
	messages := new(mocks.MessageLogMock)
	chatID := uuid.New()
	alice := startSession(t, hub, messages, nil, chatID)
	bob := startSession(t, hub, messages, nil, chatID)

	messages.On("Append", mock.Anything, chatID, alice.coord.session.UserID.String(), "hello").
		Return(nil, apperr.StorageError("message_log.append", errors.New("disk full"))).Once()

	alice.conn.send(t, models.InboundFrame{Content: "hello"})

	frame := decodeErrorFrame(t, alice.conn.next(t))
	assert.Equal(t, CodeStorage, frame.Code)
	bob.conn.assertSilent(t)
	messages.AssertExpectations(t)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

func TestCoordinatorRateLimited(t *testing.T) {
	hub := NewHub(16, nil)
	messages := new(mocks.MessageLogMock)
	chatID := uuid.New()
	alice := startSession(t, hub, messages, denyLimiter{}, chatID)

	alice.conn.send(t, models.InboundFrame{Content: "spam"})

	frame := decodeErrorFrame(t, alice.conn.next(t))
	assert.Equal(t, CodeRateLimited, frame.Code)
	messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinatorClientCloseReleasesSubscription(t *testing.T) {
	hub := NewHub(16, nil)
	chatID := uuid.New()
	alice := startSession(t, hub, new(mocks.MessageLogMock), nil, chatID)

	alice.conn.hangUp()

	require.NoError(t, alice.wait(t))
	assert.Equal(t, StateClosed, alice.coord.State())
	assert.Equal(t, 0, hub.Count(chatID))
}

func TestCoordinatorStopsOnContextCancel(t *testing.T) {
	hub := NewHub(16, nil)
	chatID := uuid.New()
	conn := newFakeConn()
	coord := NewCoordinator(conn, chatID, models.Session{UserID: uuid.New()}, new(mocks.MessageLogMock), hub, nil, CoordinatorConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Count(chatID) == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}
	assert.Equal(t, 0, hub.Count(chatID))
}

func TestCoordinatorHubShutdownClosesSession(t *testing.T) {
	hub := NewHub(16, nil)
	chatID := uuid.New()
	alice := startSession(t, hub, new(mocks.MessageLogMock), nil, chatID)

	hub.Shutdown()

	closeFrame := alice.conn.next(t)
	assert.Equal(t, websocket.CloseMessage, closeFrame.kind)
	assert.ErrorIs(t, alice.wait(t), ErrHubClosed)
}

func TestCoordinatorSlowConsumerIsToldToResync(t *testing.T) {
	hub := NewHub(1, nil)
	chatID := uuid.New()
	alice := startSession(t, hub, new(mocks.MessageLogMock), nil, chatID)

	// Fill the relay's output so it stops draining the subscription.
	for i := 0; i < cap(alice.conn.out); i++ {
		alice.conn.out <- written{kind: websocket.TextMessage, data: []byte("{}")}
	}
	for i := 1; i <= 4; i++ {
		_ = hub.Publish(context.Background(), chatID, testMessage(chatID, i))
	}
	for i := 0; i < cap(alice.conn.out); i++ {
		<-alice.conn.out
	}

	var lagged bool
	deadline := time.After(2 * time.Second)
	for !lagged {
		select {
		case w := <-alice.conn.out:
			if w.kind != websocket.TextMessage {
				continue
			}
			var frame models.ErrorFrame
			if json.Unmarshal(w.data, &frame) == nil && frame.Code == CodeLagged {
				lagged = true
			}
		case <-deadline:
			t.Fatal("no lagged frame")
		}
	}
	assert.ErrorIs(t, alice.wait(t), ErrSlowConsumer)
}
