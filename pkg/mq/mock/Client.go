// Package mock provides a recording mq.ClientInterface for tests.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/health-dashboard/pkg/mq"
)

// MockClient records calls and returns configurable results.
type MockClient struct {
	mu sync.Mutex

	// PublishFunc is called when Publish is invoked. If nil, returns PublishError.
	PublishFunc  func(ctx context.Context, msg mq.Message) error
	PublishError error
	PublishCalls []mq.Message

	// PublishUnconfirmedFunc is called when PublishUnconfirmed is invoked.
	// If nil, returns PublishUnconfirmedError.
	PublishUnconfirmedFunc  func(ctx context.Context, msg mq.Message) error
	PublishUnconfirmedError error
	PublishUnconfirmedCalls []mq.Message

	// ConsumeFunc is called when Consume is invoked. If nil, returns
	// ConsumeChannel and ConsumeError.
	ConsumeFunc    func() (<-chan amqp.Delivery, error)
	ConsumeChannel <-chan amqp.Delivery
	ConsumeError   error
	ConsumeCalls   int

	CloseFunc  func() error
	CloseError error
	CloseCalls int
}

// NewMockClient creates a MockClient that succeeds on every call.
func NewMockClient() *MockClient {
	return &MockClient{
		ConsumeChannel: make(chan amqp.Delivery),
	}
}

// Publish implements mq.ClientInterface.
func (m *MockClient) Publish(ctx context.Context, msg mq.Message) error {
	m.mu.Lock()
	m.PublishCalls = append(m.PublishCalls, msg)
	fn, err := m.PublishFunc, m.PublishError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}
	return err
}

// PublishUnconfirmed implements mq.ClientInterface.
func (m *MockClient) PublishUnconfirmed(ctx context.Context, msg mq.Message) error {
	m.mu.Lock()
	m.PublishUnconfirmedCalls = append(m.PublishUnconfirmedCalls, msg)
	fn, err := m.PublishUnconfirmedFunc, m.PublishUnconfirmedError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}
	return err
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeCalls++

	if m.ConsumeFunc != nil {
		return m.ConsumeFunc()
	}
	return m.ConsumeChannel, m.ConsumeError
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return m.CloseError
}

// Published returns a copy of the recorded Publish calls.
func (m *MockClient) Published() []mq.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mq.Message(nil), m.PublishCalls...)
}

// Consumes returns how many times Consume was called.
func (m *MockClient) Consumes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConsumeCalls
}

// Reset clears the recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCalls = nil
	m.PublishUnconfirmedCalls = nil
	m.ConsumeCalls = 0
	m.CloseCalls = 0
}

var _ mq.ClientInterface = (*MockClient)(nil)
