package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/novu-co/novu-sub003/pkg/cache"
	"github.com/novu-co/novu-sub003/pkg/executionlog"
	"github.com/novu-co/novu-sub003/pkg/filter"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/otelhelper"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/providers"
	"github.com/novu-co/novu-sub003/pkg/subscriber"
	"github.com/novu-co/novu-sub003/pkg/tier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	InAppProviderID = providers.InAppProviderID

	broadcastBatchSize = 500
	expandedMarkerTTL  = 24 * time.Hour
)

// ExpanderDeps are the collaborators of an Expander.
type ExpanderDeps struct {
	Persistence persistence.Persistence
	Resolver    *subscriber.Resolver
	Filterer    *filter.StepFilterer
	Tiers       *tier.Validator
	Lifecycle   *Lifecycle
	Digester    *Digester
	Throttler   *Throttler
	Details     executionlog.Writer
	Cache       cache.Cache
	Metrics     metrics.Sink
	Tracer      trace.Tracer
	Logger      *slog.Logger
	MaxAttempts int
}

// Expander turns one accepted trigger into the jobs of every addressed subscriber.
type Expander struct {
	workflows     persistence.WorkflowRepository
	notifications persistence.NotificationRepository
	jobs          persistence.JobRepository
	subscribers   persistence.SubscriberRepository
	integrations  persistence.IntegrationRepository
	resolver      *subscriber.Resolver
	filterer      *filter.StepFilterer
	tiers         *tier.Validator
	lifecycle     *Lifecycle
	digester      *Digester
	throttler     *Throttler
	details       executionlog.Writer
	cache         cache.Cache
	metrics       metrics.Sink
	tracer        trace.Tracer
	maxAttempts   int
	logger        *slog.Logger
}

func NewExpander(deps ExpanderDeps) *Expander {
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}

	return &Expander{
		workflows:     deps.Persistence.WorkflowRepository(),
		notifications: deps.Persistence.NotificationRepository(),
		jobs:          deps.Persistence.JobRepository(),
		subscribers:   deps.Persistence.SubscriberRepository(),
		integrations:  deps.Persistence.IntegrationRepository(),
		resolver:      deps.Resolver,
		filterer:      deps.Filterer,
		tiers:         deps.Tiers,
		lifecycle:     deps.Lifecycle,
		digester:      deps.Digester,
		throttler:     deps.Throttler,
		details:       deps.Details,
		cache:         deps.Cache,
		metrics:       deps.Metrics,
		tracer:        deps.Tracer,
		maxAttempts:   maxAttempts,
		logger:        deps.Logger.With("module", "job_expander"),
	}
}

// expansion is the state shared by every subscriber of one trigger.
type expansion struct {
	data         models.TriggerJobData
	workflow     *models.Workflow
	notification *models.Notification
	actor        map[string]any
	tenant       map[string]any
	providers    map[models.StepType]string
}

// Process expands a trigger. It is safe to call again for the same transaction: subscribers
// whose jobs already exist are skipped. Subscribers are processed independently and their
// errors joined; IsPermanent tells whether the trigger is worth redelivering.
func (e *Expander) Process(ctx context.Context, data models.TriggerJobData) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.expand",
		attribute.String(otelhelper.EnvironmentIDKey, data.EnvironmentID),
		attribute.String(otelhelper.WorkflowIdentifierKey, data.Identifier),
		attribute.String(otelhelper.TransactionIDKey, data.TransactionID),
	)
	defer span.End()

	err := e.process(ctx, data)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (e *Expander) process(ctx context.Context, data models.TriggerJobData) error {
	workflow, err := e.workflows.GetByIdentifier(ctx, data.EnvironmentID, data.Identifier)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return fmt.Errorf("workflow %s: %w", data.Identifier, ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to load workflow %s: %w", data.Identifier, err)
	}

	run := &expansion{
		data:      data,
		workflow:  workflow,
		tenant:    tenantData(data.Tenant),
		providers: map[models.StepType]string{},
	}

	if data.Actor != nil {
		run.actor = e.actorData(ctx, data)
	}

	notification := &models.Notification{
		EnvironmentID:      data.EnvironmentID,
		OrganizationID:     data.OrganizationID,
		TransactionID:      data.TransactionID,
		WorkflowID:         workflow.ID,
		WorkflowIdentifier: workflow.Identifier,
		Payload:            data.Payload,
		Tenant:             data.Tenant,
	}

	if data.Actor != nil {
		notification.ActorID = data.Actor.SubscriberID
	}

	run.notification, _, err = e.notifications.FindOrCreate(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to create notification for transaction %s: %w", data.TransactionID, err)
	}

	if data.AddressingType == models.AddressingBroadcast {
		return e.broadcast(ctx, run)
	}

	var errs []error

	for _, recipient := range data.To {
		sub, err := e.resolver.Resolve(ctx, data.EnvironmentID, data.OrganizationID, recipient)
		if err != nil {
			if errors.Is(err, subscriber.ErrSubscriberResolutionPending) {
				errs = append(errs, err)

				continue
			}

			e.logger.WarnContext(ctx, "subscriber could not be resolved",
				"transaction_id", data.TransactionID,
				"subscriber_id", recipient.SubscriberID,
				"error", err,
			)
			e.record(ctx, executionlog.WithRaw(e.runDetail(run, recipient.SubscriberID, "",
				models.DetailSubscriberResolutionFailed, models.DetailStatusFailed), err))

			continue
		}

		err = e.expandSubscriber(ctx, run, sub)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Abandon records that expansion of the trigger was given up. Without a notification there is
// no timeline to write to and the failure is only logged.
func (e *Expander) Abandon(ctx context.Context, data models.TriggerJobData, cause error) {
	logger := e.logger.With("transaction_id", data.TransactionID, "workflow", data.Identifier)

	notification, err := e.notifications.GetByTransactionID(ctx, data.EnvironmentID, data.TransactionID)
	if err != nil {
		logger.ErrorContext(ctx, "trigger abandoned before its notification was created", "error", cause)

		return
	}

	logger.ErrorContext(ctx, "trigger abandoned", "notification_id", notification.ID, "error", cause)

	e.record(ctx, executionlog.WithRaw(&models.ExecutionDetail{
		EnvironmentID:  data.EnvironmentID,
		OrganizationID: data.OrganizationID,
		NotificationID: notification.ID,
		TransactionID:  data.TransactionID,
		Detail:         models.DetailTriggerExpansionFailed,
		Source:         models.DetailSourceInternal,
		Status:         models.DetailStatusFailed,
	}, cause))
}

func (e *Expander) broadcast(ctx context.Context, run *expansion) error {
	var errs []error

	for offset := 0; ; offset += broadcastBatchSize {
		batch, err := e.subscribers.ListByEnvironment(ctx, run.data.EnvironmentID, offset, broadcastBatchSize)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("failed to list subscribers: %w", err))...)
		}

		for _, sub := range batch {
			err := e.expandSubscriber(ctx, run, sub)
			if err != nil {
				errs = append(errs, err)
			}
		}

		if len(batch) < broadcastBatchSize {
			return errors.Join(errs...)
		}
	}
}

// expandSubscriber walks the active steps for one subscriber, persists the resulting jobs as a
// batch and activates the ones that can start.
func (e *Expander) expandSubscriber(ctx context.Context, run *expansion, sub *models.Subscriber) error {
	logger := e.logger.With(
		"transaction_id", run.data.TransactionID,
		"workflow", run.workflow.Identifier,
		"subscriber_id", sub.SubscriberID,
	)

	done, err := e.alreadyExpanded(ctx, run, sub.SubscriberID)
	if err != nil {
		return err
	}

	if done {
		logger.DebugContext(ctx, "subscriber already expanded")

		return nil
	}

	sc := filter.StepContext{
		EnvironmentID: run.data.EnvironmentID,
		Identifier:    run.workflow.Identifier,
		TransactionID: run.data.TransactionID,
		Payload:       run.data.Payload,
		Subscriber:    sub.TemplateData(),
		Tenant:        run.tenant,
		Actor:         run.actor,
	}

	reasons := map[string]models.DetailReason{}
	queueNow := map[string]models.DetailReason{}

	var (
		batch      []*models.Job
		openDigest *models.Job
		dependsOn  string
		throttled  bool
		stepErr    error
	)

steps:
	for _, step := range run.workflow.ActiveSteps() {
		job, err := e.newJob(run, sub, step)
		if err != nil {
			return err
		}

		job.DependsOn = dependsOn

		if throttled {
			job.Status = models.JobStatusSkipped
			reasons[job.ID] = models.DetailStepSkipped
			batch = append(batch, job)
			dependsOn = job.ID

			continue
		}

		outcome := e.filterer.Filter(ctx, step, sc)
		if len(outcome.WebhookFailures) > 0 {
			detail := e.stepDetail(run, sub, step, models.DetailWebhookFilterFailedRetry, models.DetailStatusWarning)
			detail.Source = models.DetailSourceWebhook
			e.record(ctx, executionlog.WithRaw(detail, outcome.WebhookFailures[0]))
		}

		if !outcome.Passed {
			detail := e.stepDetail(run, sub, step, outcome.Reason, models.DetailStatusSuccess)
			if outcome.Reason == models.DetailWebhookFilterFailedLastRetry {
				detail.Source = models.DetailSourceWebhook
				detail.Status = models.DetailStatusFailed
			}

			e.record(ctx, executionlog.WithRaw(detail, outcome.Result))

			continue
		}

		if step.Type.IsDeferring() {
			issues := e.tiers.ValidateStep(ctx, run.data.OrganizationID, step)
			if len(issues) > 0 {
				logger.InfoContext(ctx, "step exceeds tier limit", "step_id", step.ID, "issues", len(issues))
				e.record(ctx, executionlog.WithRaw(e.stepDetail(run, sub, step,
					models.DetailTierLimitExceeded, models.DetailStatusFailed), issues))

				continue
			}
		}

		switch {
		case step.Type.IsChannel():
			if len(step.Controls) == 0 {
				e.record(ctx, e.stepDetail(run, sub, step, models.DetailStepControlsNotFound, models.DetailStatusFailed))
				stepErr = &StepError{StepID: step.ID, Err: ErrStepControlsNotFound}

				break steps
			}

			job.ProviderID, err = e.providerFor(ctx, run, step.Type)
			if err != nil {
				return err
			}

			batch = append(batch, job)
		case step.Type == models.StepTypeDigest:
			job.Digest = NewJobDigest(step, sub.SubscriberID, run.data.Payload)

			if dependsOn != "" {
				batch = append(batch, job)
				dependsOn = job.ID

				continue
			}

			decision, digest, err := e.digester.Schedule(ctx, job, false)
			if err != nil {
				if errors.Is(err, ErrInvalidStepMetadata) {
					e.record(ctx, executionlog.WithRaw(e.stepDetail(run, sub, step,
						models.DetailStepSkipped, models.DetailStatusFailed), err))

					continue
				}

				return err
			}

			switch decision {
			case DigestMerged:
				detail := e.stepDetail(run, sub, step, models.DetailDigestMerged, models.DetailStatusSuccess)
				detail.JobID = digest.ID
				e.record(ctx, executionlog.WithRaw(detail, map[string]any{
					"digestJobId": digest.ID,
					"eventCount":  len(digest.Digest.Events),
				}))

				break steps
			case DigestBackoffSkipped:
				job.Status = models.JobStatusPending
				job.ScheduledAt = nil
				queueNow[job.ID] = models.DetailDigestBackoffSkipped
				batch = append(batch, job)
			default:
				openDigest = digest
			}

			dependsOn = digest.ID
		case step.Type == models.StepTypeThrottle:
			allowed, err := e.throttler.Allow(ctx, job)
			if err != nil {
				e.record(ctx, executionlog.WithRaw(e.stepDetail(run, sub, step,
					models.DetailStepSkipped, models.DetailStatusFailed), err))

				continue
			}

			if !allowed {
				job.Status = models.JobStatusSkipped
				reasons[job.ID] = models.DetailThrottleLimitExceeded
				throttled = true
			}

			batch = append(batch, job)
			dependsOn = job.ID
		default:
			batch = append(batch, job)
			dependsOn = job.ID
		}
	}

	if len(batch) > 0 {
		err = e.jobs.CreateBatch(ctx, batch)
		if err != nil {
			if openDigest != nil {
				cancelErr := e.lifecycle.Cancel(ctx, openDigest, models.DetailStepCanceled)
				if cancelErr != nil {
					logger.ErrorContext(ctx, "failed to cancel digest of a failed batch", "job_id", openDigest.ID, "error", cancelErr)
				}
			}

			return fmt.Errorf("failed to create jobs for subscriber %s: %w", sub.SubscriberID, err)
		}
	}

	if openDigest != nil {
		e.record(ctx, executionlog.FromJob(openDigest, models.DetailDigestStepCreated, models.DetailStatusPending))

		err = e.lifecycle.EnqueueDelayed(ctx, openDigest, models.DetailStepQueuedWithDelay)
		if err != nil {
			return err
		}
	}

	counts := map[models.StepType]int{}

	for _, job := range batch {
		counts[job.Type]++

		created := models.DetailStepCreated
		if job.Type == models.StepTypeDigest {
			created = models.DetailDigestStepCreated
		}

		e.record(ctx, executionlog.FromJob(job, created, models.DetailStatusPending))

		if reason, ok := reasons[job.ID]; ok {
			e.record(ctx, executionlog.FromJob(job, reason, models.DetailStatusSuccess))
		}
	}

	var errs []error

	for _, job := range batch {
		if job.DependsOn != "" || job.Status != models.JobStatusPending {
			continue
		}

		if reason, ok := queueNow[job.ID]; ok {
			err = e.lifecycle.QueueNow(ctx, job, reason)
		} else {
			err = e.lifecycle.Activate(ctx, job)
		}

		if err != nil && !persistence.IsJobStatusConflict(err) {
			errs = append(errs, err)
		}
	}

	for jobType, count := range counts {
		e.metrics.JobsCreated(string(jobType), count)
	}

	err = e.cache.Set(ctx, expandedKey(run, sub.SubscriberID), run.notification.ID, expandedMarkerTTL)
	if err != nil {
		logger.WarnContext(ctx, "failed to set expansion marker", "error", err)
	}

	logger.InfoContext(ctx, "subscriber expanded", "jobs", len(batch), "digest_open", openDigest != nil)

	if stepErr != nil {
		errs = append(errs, stepErr)
	}

	return errors.Join(errs...)
}

func (e *Expander) newJob(run *expansion, sub *models.Subscriber, step *models.Step) (*models.Job, error) {
	id, err := persistence.NewID()
	if err != nil {
		return nil, err
	}

	return &models.Job{
		ID:                 id,
		Type:               step.Type,
		Status:             models.JobStatusPending,
		EnvironmentID:      run.data.EnvironmentID,
		OrganizationID:     run.data.OrganizationID,
		UserID:             run.data.UserID,
		NotificationID:     run.notification.ID,
		TransactionID:      run.data.TransactionID,
		WorkflowID:         run.workflow.ID,
		WorkflowIdentifier: run.workflow.Identifier,
		StepID:             step.ID,
		Step:               *step,
		SubscriberID:       sub.SubscriberID,
		Payload:            run.data.Payload,
		Overrides:          run.data.Overrides,
		Tenant:             run.data.Tenant,
		Actor:              run.data.Actor,
		BridgeURL:          run.data.BridgeURL,
		MaxAttempts:        e.maxAttempts,
	}, nil
}

// providerFor returns the provider of the channel's active integration. A channel without one
// yields an empty provider id; the worker fails such jobs with a detail.
func (e *Expander) providerFor(ctx context.Context, run *expansion, channel models.StepType) (string, error) {
	if channel == models.StepTypeInApp {
		return InAppProviderID, nil
	}

	if providerID, ok := run.providers[channel]; ok {
		return providerID, nil
	}

	integration, err := e.integrations.FindActive(ctx, run.data.EnvironmentID, channel)
	if err != nil && !errors.Is(err, persistence.ErrIntegrationNotFound) {
		return "", fmt.Errorf("failed to find %s integration: %w", channel, err)
	}

	providerID := ""
	if integration != nil {
		providerID = integration.ProviderID
	}

	run.providers[channel] = providerID

	return providerID, nil
}

func (e *Expander) alreadyExpanded(ctx context.Context, run *expansion, subscriberID string) (bool, error) {
	_, found, err := e.cache.Get(ctx, expandedKey(run, subscriberID))
	if err == nil && found {
		return true, nil
	}

	exists, err := e.jobs.ExistsForSubscriber(ctx, run.data.EnvironmentID, run.data.TransactionID, subscriberID)
	if err != nil {
		return false, fmt.Errorf("failed to check existing jobs: %w", err)
	}

	return exists, nil
}

func (e *Expander) actorData(ctx context.Context, data models.TriggerJobData) map[string]any {
	actor, err := e.resolver.Resolve(ctx, data.EnvironmentID, data.OrganizationID, *data.Actor)
	if err != nil {
		e.logger.WarnContext(ctx, "actor could not be resolved, using trigger data",
			"transaction_id", data.TransactionID,
			"actor_id", data.Actor.SubscriberID,
			"error", err,
		)

		return data.Actor.TemplateData()
	}

	return actor.TemplateData()
}

func (e *Expander) runDetail(run *expansion, subscriberID string, channel models.StepType, reason models.DetailReason, status models.DetailStatus) *models.ExecutionDetail {
	return &models.ExecutionDetail{
		EnvironmentID:  run.data.EnvironmentID,
		OrganizationID: run.data.OrganizationID,
		SubscriberID:   subscriberID,
		NotificationID: run.notification.ID,
		TransactionID:  run.data.TransactionID,
		Channel:        channel,
		Detail:         reason,
		Source:         models.DetailSourceInternal,
		Status:         status,
	}
}

func (e *Expander) stepDetail(run *expansion, sub *models.Subscriber, step *models.Step, reason models.DetailReason, status models.DetailStatus) *models.ExecutionDetail {
	return e.runDetail(run, sub.SubscriberID, step.Type, reason, status)
}

func (e *Expander) record(ctx context.Context, detail *models.ExecutionDetail) {
	err := e.details.Create(ctx, detail)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record execution detail",
			"detail", detail.Detail,
			"transaction_id", detail.TransactionID,
			"error", err,
		)
	}
}

func expandedKey(run *expansion, subscriberID string) string {
	return fmt.Sprintf("expanded:%s:%s:%s", run.data.EnvironmentID, run.data.TransactionID, subscriberID)
}

func tenantData(ref *models.TenantRef) map[string]any {
	if ref == nil {
		return nil
	}

	return map[string]any{
		"identifier": ref.Identifier,
		"name":       ref.Name,
		"data":       ref.Data,
	}
}
