package observability

import "time"

const (
	EventTypeWS       = "ws_events"
	RoutingKeyWSChats = "ws_events.chats"
)

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt time.Time   `json:"occurred_at"`
	RequestID  string      `json:"-"`
	TraceID    string      `json:"-"`
	Payload    interface{} `json:"payload"`
}

// AMQPHeaders exposes request correlation as message headers.
func (e EventEnvelope) AMQPHeaders() map[string]string {
	return BuildHeaders(e.RequestID, e.TraceID)
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
