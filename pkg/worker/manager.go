package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/otelhelper"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryPolicy bounds the in-process retries of a message whose handler keeps failing. Once the
// retries are spent the message is acknowledged and handed to the topic's exhausted handler.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
}

// ExhaustedHandler is called with a message that failed on every retry.
type ExhaustedHandler func(ctx context.Context, msg *queue.Message, err error)

// Manager binds the workers to their queue topics.
type Manager struct {
	id        string
	queue     queue.Queue
	handlers  map[queue.Topic]queue.Handler
	exhausted map[queue.Topic]ExhaustedHandler
	retry     RetryPolicy
	metrics   metrics.Sink
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewManager(id string, q queue.Queue, sink metrics.Sink, tracer trace.Tracer, logger *slog.Logger) *Manager {
	return &Manager{
		id:        id,
		queue:     q,
		handlers:  make(map[queue.Topic]queue.Handler),
		exhausted: make(map[queue.Topic]ExhaustedHandler),
		retry:     DefaultRetryPolicy,
		metrics:   sink,
		tracer:    tracer,
		logger:    logger.With("module", "novu-worker", "worker_id", id),
	}
}

// Handle registers the handler of a topic. It must be called before Start.
func (m *Manager) Handle(topic queue.Topic, handler queue.Handler) {
	m.handlers[topic] = handler
}

// OnExhausted registers what happens to a message of the topic whose retries ran out.
func (m *Manager) OnExhausted(topic queue.Topic, handler ExhaustedHandler) {
	m.exhausted[topic] = handler
}

// SetRetryPolicy replaces DefaultRetryPolicy. It must be called before Start.
func (m *Manager) SetRetryPolicy(policy RetryPolicy) {
	m.retry = policy
}

// Start consumes every registered topic and blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting worker manager", "topics", len(m.handlers))

	for topic, handler := range m.handlers {
		err := m.queue.Consume(ctx, topic, m.withRetry(topic, m.instrument(topic, handler)))
		if err != nil {
			return fmt.Errorf("failed to consume %s: %w", topic, err)
		}

		m.logger.InfoContext(ctx, "Consuming topic", "topic", topic)
	}

	m.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()

	m.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

// withRetry runs the handler under watermill's retry middleware. An error is returned to the
// queue only when ctx ended, so the message is redelivered to another worker.
func (m *Manager) withRetry(topic queue.Topic, handler queue.Handler) queue.Handler {
	retry := middleware.Retry{
		MaxRetries:      m.retry.MaxRetries,
		InitialInterval: m.retry.InitialInterval,
		MaxInterval:     m.retry.MaxInterval,
		Multiplier:      2,
		OnRetryHook: func(int, time.Duration) {
			m.metrics.WorkerRetry(string(topic))
		},
	}

	return func(ctx context.Context, msg *queue.Message) error {
		wrapped := retry.Middleware(func(*message.Message) ([]*message.Message, error) {
			return nil, handler(ctx, msg)
		})

		carrier := message.NewMessage(msg.ID, msg.Payload)
		carrier.SetContext(ctx)

		_, err := wrapped(carrier)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return err
		}

		m.logger.ErrorContext(ctx, "giving up on message after retries",
			"topic", topic,
			"message_id", msg.ID,
			"retries", m.retry.MaxRetries,
			"error", err,
		)

		if exhausted, ok := m.exhausted[topic]; ok {
			exhausted(ctx, msg, err)
		}

		return nil
	}
}

func (m *Manager) instrument(topic queue.Topic, handler queue.Handler) queue.Handler {
	return func(ctx context.Context, msg *queue.Message) error {
		ctx, span := otelhelper.StartSpan(ctx, m.tracer, "queue.consume",
			attribute.String(otelhelper.QueueTopicKey, string(topic)),
		)
		defer span.End()

		err := handler(ctx, msg)
		m.metrics.QueueMessageHandled(string(topic), err)

		if err != nil {
			otelhelper.SetError(span, err)
			m.logger.WarnContext(ctx, "message handling failed", "topic", topic, "message_id", msg.ID, "error", err)
		}

		return err
	}
}
