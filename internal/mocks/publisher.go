package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chatstream/internal/observability"
	"chatstream/internal/rabbitmq"
	"chatstream/internal/telemetry"
)

// PublisherMock stands in for the AMQP publisher in audit and ws event tests.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}

var (
	_ rabbitmq.Publisher           = (*PublisherMock)(nil)
	_ telemetry.Publisher          = (*PublisherMock)(nil)
	_ observability.EventPublisher = (*PublisherMock)(nil)
)
