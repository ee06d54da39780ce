package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the subset of Client used by publishers and consumers.
// It lets the simulator and the backend consumer run against pkg/mq/mock in tests.
type ClientInterface interface {
	// Publish sends body and blocks until the broker confirms it.
	Publish(ctx context.Context, body []byte) error

	// Consume delivers queued messages; each must be acked or nacked.
	Consume() (<-chan amqp.Delivery, error)

	// Ready reports whether the client currently holds a usable channel.
	Ready() bool

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
