package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends messages to a queue.
type Publisher interface {
	// Publish sends msg and blocks until the broker confirms it.
	Publish(ctx context.Context, msg Message) error
}

// ClientInterface is the full client surface, satisfied by Client and
// mock.MockClient.
type ClientInterface interface {
	Publisher

	// PublishUnconfirmed sends msg without waiting for a confirmation.
	PublishUnconfirmed(ctx context.Context, msg Message) error

	// Consume delivers queue messages until the channel closes. Deliveries
	// must be acked or nacked.
	Consume() (<-chan amqp.Delivery, error)

	Close() error
}

var _ ClientInterface = (*Client)(nil)
