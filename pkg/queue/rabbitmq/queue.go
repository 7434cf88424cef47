// Package rabbitmq runs the work queues on RabbitMQ, with native delayed delivery through
// per-delay TTL queues that dead-letter into the topic queues.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/novu-co/novu-sub003/pkg/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "novu.jobs"

var topics = []queue.Topic{queue.TopicStandard, queue.TopicWorkflow, queue.TopicExecutionLog}

type Queue struct {
	conn     *amqp.Connection
	exchange string
	prefetch int
	logger   *slog.Logger

	mu          sync.Mutex
	publisher   *amqp.Channel
	delayQueues map[string]struct{}
	consumers   []*amqp.Channel
	closed      bool
	wg          sync.WaitGroup
}

// Dial connects and declares the exchange and the topic queues.
func Dial(url string, prefetch int, logger *slog.Logger) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if prefetch <= 0 {
		prefetch = 1
	}

	q := &Queue{
		conn:        conn,
		exchange:    DefaultExchange,
		prefetch:    prefetch,
		logger:      logger.With("module", "rabbitmq_queue"),
		publisher:   ch,
		delayQueues: make(map[string]struct{}),
	}

	err = q.setupTopology()
	if err != nil {
		_ = q.Close()

		return nil, err
	}

	return q, nil
}

// setupTopology is idempotent.
func (q *Queue) setupTopology() error {
	err := q.publisher.ExchangeDeclare(q.exchange, "direct", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	for _, topic := range topics {
		_, err := q.publisher.QueueDeclare(string(topic), true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", topic, err)
		}

		err = q.publisher.QueueBind(string(topic), string(topic), q.exchange, false, nil)
		if err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", topic, err)
		}
	}

	return nil
}

func delayQueueName(topic queue.Topic, delay time.Duration) string {
	return fmt.Sprintf("%s.delay.%dms", topic, delay.Milliseconds())
}

// ensureDelayQueue must be called with the lock held. Every message in a delay queue has the
// same ttl, so expiry order matches arrival order.
func (q *Queue) ensureDelayQueue(topic queue.Topic, delay time.Duration) (string, error) {
	name := delayQueueName(topic, delay)
	if _, ok := q.delayQueues[name]; ok {
		return name, nil
	}

	_, err := q.publisher.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    q.exchange,
		"x-dead-letter-routing-key": string(topic),
	})
	if err != nil {
		return "", fmt.Errorf("failed to declare delay queue %s: %w", name, err)
	}

	q.delayQueues[name] = struct{}{}

	return name, nil
}

func (q *Queue) Enqueue(ctx context.Context, topic queue.Topic, key string, payload []byte, opts ...queue.EnqueueOption) error {
	options := queue.ResolveOptions(opts...)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return queue.ErrQueueClosed
	}

	id := options.ID
	if id == "" {
		id = watermill.NewULID()
	}

	exchange, routingKey := q.exchange, string(topic)

	// the delay is rounded to milliseconds so equal delays share a queue
	if options.Delay >= time.Millisecond {
		name, err := q.ensureDelayQueue(topic, options.Delay.Truncate(time.Millisecond))
		if err != nil {
			return err
		}

		exchange, routingKey = "", name
	}

	err := q.publisher.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{queue.KeyMetadataKey: key},
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

func (q *Queue) Consume(ctx context.Context, topic queue.Topic, handler queue.Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return queue.ErrQueueClosed
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	err = ch.Qos(q.prefetch, 0, false)
	if err != nil {
		_ = ch.Close()

		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, string(topic), "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()

		return fmt.Errorf("failed to consume %s: %w", topic, err)
	}

	q.consumers = append(q.consumers, ch)

	for range q.prefetch {
		q.wg.Add(1)

		go func() {
			defer q.wg.Done()

			for delivery := range deliveries {
				q.deliver(ctx, topic, delivery, handler)
			}
		}()
	}

	return nil
}

func (q *Queue) deliver(ctx context.Context, topic queue.Topic, delivery amqp.Delivery, handler queue.Handler) {
	key, _ := delivery.Headers[queue.KeyMetadataKey].(string)

	err := handler(ctx, &queue.Message{
		ID:      delivery.MessageId,
		Topic:   topic,
		Key:     key,
		Payload: delivery.Body,
	})
	if err != nil {
		q.logger.WarnContext(ctx, "message handler failed, requeueing",
			"topic", topic,
			"message_id", delivery.MessageId,
			"error", err,
		)

		if nackErr := delivery.Nack(false, true); nackErr != nil {
			q.logger.ErrorContext(ctx, "failed to nack message", "error", nackErr)
		}

		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		q.logger.ErrorContext(ctx, "failed to ack message", "error", ackErr)
	}
}

func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return nil
	}

	q.closed = true
	consumers := q.consumers
	q.mu.Unlock()

	for _, ch := range consumers {
		_ = ch.Close()
	}

	q.wg.Wait()

	if q.publisher != nil {
		_ = q.publisher.Close()
	}

	err := q.conn.Close()
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	return nil
}
