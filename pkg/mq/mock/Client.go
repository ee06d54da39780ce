// Package mock provides an in-memory stand-in for mq.ClientInterface.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sensor-telemetry/pkg/mq"
)

// MockClient records calls and returns configurable results.
type MockClient struct {
	mu sync.Mutex

	// PublishFunc, when set, decides the result of Publish.
	PublishFunc func(ctx context.Context, body []byte) error
	// PublishError is returned by Publish when PublishFunc is nil.
	PublishError error
	// Published holds every body passed to Publish, in call order.
	Published [][]byte

	// ConsumeChannel is returned by Consume together with ConsumeError.
	ConsumeChannel chan amqp.Delivery
	ConsumeError   error
	ConsumeCalls   int

	// NotReady flips the value reported by Ready.
	NotReady bool

	CloseError error
	CloseCalls int
}

// NewMockClient returns a ready mock with an unbuffered delivery channel.
func NewMockClient() *MockClient {
	return &MockClient{
		ConsumeChannel: make(chan amqp.Delivery),
	}
}

// Publish implements mq.ClientInterface.
func (m *MockClient) Publish(ctx context.Context, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Published = append(m.Published, append([]byte(nil), body...))

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, body)
	}
	return m.PublishError
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeCalls++
	if m.ConsumeError != nil {
		return nil, m.ConsumeError
	}
	return m.ConsumeChannel, nil
}

// Ready implements mq.ClientInterface.
func (m *MockClient) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.NotReady
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// PublishedCount returns the number of Publish calls so far.
func (m *MockClient) PublishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}

// LastPublished returns the most recent body, or nil when nothing was published.
func (m *MockClient) LastPublished() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Published) == 0 {
		return nil
	}
	return m.Published[len(m.Published)-1]
}

var _ mq.ClientInterface = (*MockClient)(nil)
