// Package queue provides the durable work queues that connect the trigger api, the workflow
// expansion and the job workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Topic partitions the work queues.
type Topic string

const (
	TopicStandard     Topic = "novu.standard"
	TopicWorkflow     Topic = "novu.workflow"
	TopicExecutionLog Topic = "novu.execution-log"

	KeyMetadataKey = "novu_key"
)

var (
	ErrQueueClosed         = errors.New("queue is closed")
	ErrDelayNotSupported   = errors.New("queue does not support delayed delivery")
	ErrHandlerAlreadyBound = errors.New("topic already has a consumer")
)

// Message is one delivery. Delivery is at least once; handlers must tolerate duplicates.
type Message struct {
	ID      string
	Topic   Topic
	Key     string
	Payload []byte
}

// Decode unmarshals the JSON payload into v.
func (m *Message) Decode(v any) error {
	err := json.Unmarshal(m.Payload, v)
	if err != nil {
		return fmt.Errorf("failed to decode %s message %s: %w", m.Topic, m.ID, err)
	}

	return nil
}

// Handler processes a message. A returned error asks the queue to redeliver it.
type Handler func(ctx context.Context, msg *Message) error

// EnqueueOptions are the resolved options of one Enqueue call.
type EnqueueOptions struct {
	Delay time.Duration
	ID    string
}

type EnqueueOption func(*EnqueueOptions)

// WithDelay defers visibility of the message until the delay elapses.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		o.Delay = delay
	}
}

// WithMessageID sets the message id instead of generating one.
func WithMessageID(id string) EnqueueOption {
	return func(o *EnqueueOptions) {
		o.ID = id
	}
}

// ResolveOptions applies opts. A negative delay counts as none.
func ResolveOptions(opts ...EnqueueOption) EnqueueOptions {
	var o EnqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.Delay < 0 {
		o.Delay = 0
	}

	return o
}

type Queue interface {
	Enqueue(ctx context.Context, topic Topic, key string, payload []byte, opts ...EnqueueOption) error
	// Consume starts delivering messages of the topic to handler in the background.
	Consume(ctx context.Context, topic Topic, handler Handler) error
	Close() error
}

// EnqueueJSON marshals v and enqueues it.
func EnqueueJSON(ctx context.Context, q Queue, topic Topic, key string, v any, opts ...EnqueueOption) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}

	return q.Enqueue(ctx, topic, key, payload, opts...)
}
