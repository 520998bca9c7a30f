package observability

import (
	"context"
	"sync"
)

// EventPublisher is the subset of the rabbitmq publisher used for ws events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher EventPublisher
)

func SetPublisher(publisher EventPublisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent sends an envelope through the process publisher, if any.
// Failures are counted and returned; callers treat them as best effort.
func PublishEvent(ctx context.Context, routingKey string, event EventEnvelope) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	err := publisher.Publish(ctx, routingKey, event)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
