package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggerProcessed(status string)                                             {}
func (n *NoopSink) JobsCreated(jobType string, count int)                                      {}
func (n *NoopSink) JobTransition(jobType, status string)                                       {}
func (n *NoopSink) ExecutionDetailRecorded(detail, status string)                              {}
func (n *NoopSink) ProviderSend(channel, providerID string, duration time.Duration, err error) {}
func (n *NoopSink) QueueMessageHandled(topic string, err error)                                {}
func (n *NoopSink) WorkerRetry(topic string)                                                   {}
