package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatstream/internal/platform/logging"
)

const auditSchemaVersion = 2

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEvent is one security relevant action, such as a login or a chat creation.
type AuditEvent struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	UserID    *string
	Attrs     map[string]string
}

// AuditEmitter publishes audit_log envelopes. A nil emitter drops everything.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
	log         *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string            `json:"level"`
	Action string            `json:"action"`
	Text   string            `json:"text"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// AMQPHeaders lets the publisher forward the request id.
func (e AuditEnvelope) AMQPHeaders() map[string]string {
	if e.RequestID == "" {
		return nil
	}
	return map[string]string{"x-request-id": e.RequestID}
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
		log:         logging.OrNop(log),
	}
}

// Emit is fire and forget: publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, ev AuditEvent) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC(),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     ev.RequestID,
		UserID:        ev.UserID,
		Payload: AuditPayload{
			Level:  ev.Level,
			Action: ev.Action,
			Text:   ev.Text,
			Attrs:  ev.Attrs,
		},
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", zap.String("action", ev.Action), zap.String("request_id", ev.RequestID), zap.Error(err))
	}
}
