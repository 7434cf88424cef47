package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// ScheduledMessage is a message waiting for its due time.
type ScheduledMessage struct {
	ID      string    `json:"id"`
	Topic   Topic     `json:"topic"`
	Key     string    `json:"key"`
	Payload []byte    `json:"payload"`
	DueAt   time.Time `json:"dueAt"`
}

// DispatchFunc hands a due message back to the underlying queue.
type DispatchFunc func(ctx context.Context, msg ScheduledMessage) error

// Scheduler holds delayed messages until they are due.
type Scheduler interface {
	Schedule(ctx context.Context, msg ScheduledMessage) error
	// Run starts dispatching due messages in the background.
	Run(ctx context.Context, dispatch DispatchFunc) error
	Close() error
}

// DelayedQueue adds delayed delivery to a queue that lacks it.
type DelayedQueue struct {
	inner     Queue
	scheduler Scheduler
	logger    *slog.Logger
	now       func() time.Time
}

func NewDelayedQueue(inner Queue, scheduler Scheduler, logger *slog.Logger) *DelayedQueue {
	return &DelayedQueue{
		inner:     inner,
		scheduler: scheduler,
		logger:    logger.With("module", "delayed_queue"),
		now:       time.Now,
	}
}

// Start begins moving due messages onto the inner queue.
func (q *DelayedQueue) Start(ctx context.Context) error {
	return q.scheduler.Run(ctx, func(ctx context.Context, msg ScheduledMessage) error {
		q.logger.DebugContext(ctx, "dispatching delayed message", "topic", msg.Topic, "message_id", msg.ID)

		return q.inner.Enqueue(ctx, msg.Topic, msg.Key, msg.Payload, WithMessageID(msg.ID))
	})
}

func (q *DelayedQueue) Enqueue(ctx context.Context, topic Topic, key string, payload []byte, opts ...EnqueueOption) error {
	options := ResolveOptions(opts...)
	if options.Delay == 0 {
		return q.inner.Enqueue(ctx, topic, key, payload, opts...)
	}

	id := options.ID
	if id == "" {
		id = watermill.NewULID()
	}

	return q.scheduler.Schedule(ctx, ScheduledMessage{
		ID:      id,
		Topic:   topic,
		Key:     key,
		Payload: payload,
		DueAt:   q.now().Add(options.Delay),
	})
}

func (q *DelayedQueue) Consume(ctx context.Context, topic Topic, handler Handler) error {
	return q.inner.Consume(ctx, topic, handler)
}

func (q *DelayedQueue) Close() error {
	err := q.scheduler.Close()
	if err != nil {
		return err
	}

	return q.inner.Close()
}
