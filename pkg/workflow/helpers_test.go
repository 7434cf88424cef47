package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/novu-co/novu-sub003/pkg/cache"
	"github.com/novu-co/novu-sub003/pkg/executionlog"
	"github.com/novu-co/novu-sub003/pkg/filter"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/otelhelper"
	"github.com/novu-co/novu-sub003/pkg/persistence/file"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"github.com/novu-co/novu-sub003/pkg/subscriber"
	"github.com/novu-co/novu-sub003/pkg/tier"
	"github.com/stretchr/testify/require"
)

type enqueued struct {
	topic   queue.Topic
	key     string
	payload []byte
	opts    queue.EnqueueOptions
}

// recordingQueue keeps enqueued messages instead of delivering them.
type recordingQueue struct {
	mu       sync.Mutex
	messages []enqueued
	err      error
}

func (q *recordingQueue) Enqueue(_ context.Context, topic queue.Topic, key string, payload []byte, opts ...queue.EnqueueOption) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}

	q.messages = append(q.messages, enqueued{topic: topic, key: key, payload: payload, opts: queue.ResolveOptions(opts...)})

	return nil
}

func (q *recordingQueue) Consume(context.Context, queue.Topic, queue.Handler) error { return nil }

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) on(topic queue.Topic) []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []enqueued

	for _, msg := range q.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}

	return out
}

func (q *recordingQueue) jobIDs(t *testing.T) []string {
	t.Helper()

	var ids []string

	for _, msg := range q.on(queue.TopicStandard) {
		decoded := &queue.Message{Topic: msg.topic, Payload: msg.payload}

		var jm queue.JobMessage
		require.NoError(t, decoded.Decode(&jm))

		ids = append(ids, jm.JobID)
	}

	return ids
}

type fixture struct {
	p         *file.Persistence
	queue     *recordingQueue
	cache     *cache.MemoryCache
	details   *executionlog.Store
	lifecycle *Lifecycle
	digester  *Digester
	expander  *Expander
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := testLogger()
	p := file.NewPersistence(t.TempDir())
	q := &recordingQueue{}
	c := cache.NewMemoryCache()
	sink := metrics.NewNoopSink()
	details := executionlog.NewStore(p.ExecutionDetailRepository(), sink, logger)
	digester := NewDigester(p.JobRepository(), c, logger)
	lifecycle := NewLifecycle(p.JobRepository(), q, details, digester, sink, time.Second, logger)

	expander := NewExpander(ExpanderDeps{
		Persistence: p,
		Resolver:    subscriber.NewResolver(p.SubscriberRepository(), c, subscriber.Options{Backoff: time.Millisecond}, logger),
		Filterer:    filter.NewStepFilterer(filter.NewEvaluator(nil), nil, logger),
		Tiers:       tier.NewValidator(p.OrganizationRepository(), logger),
		Lifecycle:   lifecycle,
		Digester:    digester,
		Throttler:   NewThrottler(c, logger),
		Details:     details,
		Cache:       c,
		Metrics:     sink,
		Tracer:      otelhelper.NewNoopTracer(),
		Logger:      logger,
	})

	return &fixture{
		p:         p,
		queue:     q,
		cache:     c,
		details:   details,
		lifecycle: lifecycle,
		digester:  digester,
		expander:  expander,
	}
}

func (f *fixture) saveWorkflow(t *testing.T, steps ...*models.Step) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Identifier:     "welcome",
		Name:           "Welcome",
		Active:         true,
		Steps:          steps,
	}

	require.NoError(t, f.p.WorkflowRepository().Save(t.Context(), workflow))

	return workflow
}

func (f *fixture) jobs(t *testing.T, transactionID string) []*models.Job {
	t.Helper()

	jobs, err := f.p.JobRepository().FindByTransaction(t.Context(), "env-1", transactionID)
	require.NoError(t, err)

	return jobs
}

func (f *fixture) detailReasons(t *testing.T, transactionID string) []models.DetailReason {
	t.Helper()

	details, err := f.details.ListByTransaction(t.Context(), "env-1", transactionID)
	require.NoError(t, err)

	reasons := make([]models.DetailReason, 0, len(details))
	for _, detail := range details {
		reasons = append(reasons, detail.Detail)
	}

	return reasons
}

func triggerData(transactionID string, payload map[string]any, subscriberIDs ...string) models.TriggerJobData {
	data := models.TriggerJobData{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Identifier:     "welcome",
		Payload:        payload,
		TransactionID:  transactionID,
		AddressingType: models.AddressingMulticast,
	}

	for _, id := range subscriberIDs {
		data.To = append(data.To, models.SubscriberPayload{SubscriberID: id})
	}

	return data
}

func emailStep(id string) *models.Step {
	return &models.Step{
		ID:       id,
		Type:     models.StepTypeEmail,
		Active:   true,
		Controls: map[string]any{"subject": "Hi {{ subscriber.firstName }}", "body": "Welcome"},
	}
}

func smsStep(id string) *models.Step {
	return &models.Step{
		ID:       id,
		Type:     models.StepTypeSMS,
		Active:   true,
		Controls: map[string]any{"body": "Welcome"},
	}
}

func delayStep(id string, amount int, unit models.TimeUnit) *models.Step {
	return &models.Step{
		ID:       id,
		Type:     models.StepTypeDelay,
		Active:   true,
		Metadata: models.StepMetadata{Amount: amount, Unit: unit},
	}
}

func digestStep(id string, amount int, unit models.TimeUnit) *models.Step {
	return &models.Step{
		ID:       id,
		Type:     models.StepTypeDigest,
		Active:   true,
		Metadata: models.StepMetadata{Amount: amount, Unit: unit},
	}
}

func countByType(jobs []*models.Job, stepType models.StepType) int {
	n := 0

	for _, job := range jobs {
		if job.Type == stepType {
			n++
		}
	}

	return n
}
