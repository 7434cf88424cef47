package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	triggersTotal         *prometheus.CounterVec
	jobsCreatedTotal      *prometheus.CounterVec
	jobTransitionsTotal   *prometheus.CounterVec
	executionDetailsTotal *prometheus.CounterVec
	providerSendsTotal    *prometheus.CounterVec
	providerSendDuration  *prometheus.HistogramVec
	queueMessagesTotal    *prometheus.CounterVec
	workerRetriesTotal    *prometheus.CounterVec

	logger *slog.Logger
}

func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger.With("module", "metrics")}

	s.triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "novu_triggers_total",
		Help: "Total number of trigger calls by response status.",
	}, []string{"status"})

	s.jobsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "novu_jobs_created_total",
		Help: "Total number of jobs created by step type.",
	}, []string{"type"})

	s.jobTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "novu_job_transitions_total",
		Help: "Total number of job status transitions by step type and target status.",
	}, []string{"type", "status"})

	s.executionDetailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "novu_execution_details_total",
		Help: "Total number of execution details recorded.",
	}, []string{"detail", "status"})

	s.providerSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "novu_provider_sends_total",
		Help: "Total number of provider send calls by outcome.",
	}, []string{"channel", "provider", "outcome"})

	s.providerSendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "novu_provider_send_duration_seconds",
		Help:    "Provider send latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"channel"})

	s.queueMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "novu_queue_messages_total",
		Help: "Total number of queue messages handled by topic and outcome.",
	}, []string{"topic", "outcome"})

	s.workerRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "novu_worker_retries_total",
		Help: "Total number of job retries scheduled by workers.",
	}, []string{"topic"})

	for name, collector := range map[string]prometheus.Collector{
		"novu_triggers_total":                 s.triggersTotal,
		"novu_jobs_created_total":             s.jobsCreatedTotal,
		"novu_job_transitions_total":          s.jobTransitionsTotal,
		"novu_execution_details_total":        s.executionDetailsTotal,
		"novu_provider_sends_total":           s.providerSendsTotal,
		"novu_provider_send_duration_seconds": s.providerSendDuration,
		"novu_queue_messages_total":           s.queueMessagesTotal,
		"novu_worker_retries_total":           s.workerRetriesTotal,
	} {
		s.register(reg, collector, name)
	}

	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register metric", "metric", name, "error", err)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

func (s *PrometheusSink) TriggerProcessed(status string) {
	s.triggersTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) JobsCreated(jobType string, count int) {
	s.jobsCreatedTotal.WithLabelValues(jobType).Add(float64(count))
}

func (s *PrometheusSink) JobTransition(jobType, status string) {
	s.jobTransitionsTotal.WithLabelValues(jobType, status).Inc()
}

func (s *PrometheusSink) ExecutionDetailRecorded(detail, status string) {
	s.executionDetailsTotal.WithLabelValues(detail, status).Inc()
}

func (s *PrometheusSink) ProviderSend(channel, providerID string, duration time.Duration, err error) {
	s.providerSendsTotal.WithLabelValues(channel, providerID, outcome(err)).Inc()
	s.providerSendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func (s *PrometheusSink) QueueMessageHandled(topic string, err error) {
	s.queueMessagesTotal.WithLabelValues(topic, outcome(err)).Inc()
}

func (s *PrometheusSink) WorkerRetry(topic string) {
	s.workerRetriesTotal.WithLabelValues(topic).Inc()
}

// Handler serves the gathered metrics in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
