package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// WatermillQueue runs the work queues on any watermill pub/sub (gochannel, kafka).
// It has no native delayed delivery; wrap it in a DelayedQueue for that.
type WatermillQueue struct {
	publisher   message.Publisher
	subscriber  message.Subscriber
	logger      *slog.Logger
	concurrency int

	mu       sync.Mutex
	closed   bool
	bound    map[Topic]struct{}
	inflight sync.WaitGroup
}

func NewWatermillQueue(pub message.Publisher, sub message.Subscriber, logger *slog.Logger, concurrency int) *WatermillQueue {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &WatermillQueue{
		publisher:   pub,
		subscriber:  sub,
		logger:      logger.With("module", "watermill_queue"),
		concurrency: concurrency,
		bound:       make(map[Topic]struct{}),
	}
}

func (q *WatermillQueue) Enqueue(ctx context.Context, topic Topic, key string, payload []byte, opts ...EnqueueOption) error {
	options := ResolveOptions(opts...)
	if options.Delay > 0 {
		return ErrDelayNotSupported
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()

	if closed {
		return ErrQueueClosed
	}

	id := options.ID
	if id == "" {
		id = watermill.NewULID()
	}

	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(KeyMetadataKey, key)
	msg.SetContext(ctx)

	err := q.publisher.Publish(string(topic), msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

func (q *WatermillQueue) Consume(ctx context.Context, topic Topic, handler Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return ErrQueueClosed
	}

	if _, ok := q.bound[topic]; ok {
		q.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrHandlerAlreadyBound, topic)
	}

	q.bound[topic] = struct{}{}
	q.mu.Unlock()

	messages, err := q.subscriber.Subscribe(ctx, string(topic))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	semaphore := make(chan struct{}, q.concurrency)

	q.inflight.Add(1)

	go func() {
		defer q.inflight.Done()

		for msg := range messages {
			semaphore <- struct{}{}

			q.inflight.Add(1)

			go func(msg *message.Message) {
				defer func() {
					<-semaphore
					q.inflight.Done()
				}()

				q.deliver(ctx, topic, msg, handler)
			}(msg)
		}
	}()

	return nil
}

func (q *WatermillQueue) deliver(ctx context.Context, topic Topic, msg *message.Message, handler Handler) {
	delivery := &Message{
		ID:      msg.UUID,
		Topic:   topic,
		Key:     msg.Metadata.Get(KeyMetadataKey),
		Payload: msg.Payload,
	}

	err := handler(ctx, delivery)
	if err != nil {
		q.logger.WarnContext(ctx, "message handler failed, requesting redelivery",
			"topic", topic,
			"message_id", msg.UUID,
			"error", err,
		)
		msg.Nack()

		return
	}

	msg.Ack()
}

func (q *WatermillQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return nil
	}

	q.closed = true
	q.mu.Unlock()

	err := q.publisher.Close()
	if err != nil {
		return err
	}

	err = q.subscriber.Close()
	if err != nil {
		return err
	}

	q.inflight.Wait()

	return nil
}
