// Package metrics records pipeline counters. Every call is fire and forget.
package metrics

import "time"

// Sink receives pipeline events. Implementations must be safe for concurrent use.
type Sink interface {
	TriggerProcessed(status string)
	JobsCreated(jobType string, count int)
	JobTransition(jobType, status string)
	ExecutionDetailRecorded(detail, status string)
	ProviderSend(channel, providerID string, duration time.Duration, err error)
	QueueMessageHandled(topic string, err error)
	WorkerRetry(topic string)
}
