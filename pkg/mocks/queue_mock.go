package mocks

import (
	"context"

	"github.com/novu-co/novu-sub003/pkg/queue"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of queue.Queue interface. Options are resolved before the
// call is recorded so expectations can match on queue.EnqueueOptions.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, topic queue.Topic, key string, payload []byte, opts ...queue.EnqueueOption) error {
	args := m.Called(ctx, topic, key, payload, queue.ResolveOptions(opts...))

	return args.Error(0)
}

func (m *MockQueue) Consume(ctx context.Context, topic queue.Topic, handler queue.Handler) error {
	args := m.Called(ctx, topic, handler)

	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}
