package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/novu-co/novu-sub003/pkg/executionlog"
	"github.com/novu-co/novu-sub003/pkg/filter"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/otelhelper"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/providers"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"github.com/novu-co/novu-sub003/pkg/render"
	"github.com/novu-co/novu-sub003/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const messageStatusSent = "sent"

// StandardDeps are the collaborators of a StandardWorker.
type StandardDeps struct {
	Persistence persistence.Persistence
	Lifecycle   *workflow.Lifecycle
	Renderer    *render.Registry
	Providers   *providers.Registry
	Evaluator   *filter.Evaluator
	Bridge      *BridgeClient
	Details     executionlog.Writer
	Metrics     metrics.Sink
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// StandardWorker runs the jobs delivered on the STANDARD topic.
type StandardWorker struct {
	jobs         persistence.JobRepository
	subscribers  persistence.SubscriberRepository
	integrations persistence.IntegrationRepository
	messages     persistence.MessageRepository
	lifecycle    *workflow.Lifecycle
	renderer     *render.Registry
	providers    *providers.Registry
	evaluator    *filter.Evaluator
	bridge       *BridgeClient
	details      executionlog.Writer
	metrics      metrics.Sink
	tracer       trace.Tracer
	logger       *slog.Logger
}

func NewStandardWorker(deps StandardDeps) *StandardWorker {
	return &StandardWorker{
		jobs:         deps.Persistence.JobRepository(),
		subscribers:  deps.Persistence.SubscriberRepository(),
		integrations: deps.Persistence.IntegrationRepository(),
		messages:     deps.Persistence.MessageRepository(),
		lifecycle:    deps.Lifecycle,
		renderer:     deps.Renderer,
		providers:    deps.Providers,
		evaluator:    deps.Evaluator,
		bridge:       deps.Bridge,
		details:      deps.Details,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		logger:       deps.Logger.With("module", "standard_worker"),
	}
}

// Handle claims and runs the job of a STANDARD message. Deliveries for jobs that are not due,
// already claimed or gone are acknowledged without work.
func (w *StandardWorker) Handle(ctx context.Context, msg *queue.Message) error {
	var data queue.JobMessage

	err := msg.Decode(&data)
	if err != nil {
		w.logger.ErrorContext(ctx, "dropping undecodable job message", "message_id", msg.ID, "error", err)

		return nil
	}

	job, err := w.lifecycle.Start(ctx, data.JobID)

	switch {
	case errors.Is(err, workflow.ErrNotDue):
		w.logger.DebugContext(ctx, "job not due yet", "job_id", data.JobID)

		return nil
	case persistence.IsJobStatusConflict(err):
		w.logger.DebugContext(ctx, "job already handled", "job_id", data.JobID)

		return nil
	case errors.Is(err, persistence.ErrJobNotFound):
		w.logger.WarnContext(ctx, "job not found", "job_id", data.JobID)

		return nil
	case err != nil:
		return err
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.run_job",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.TransactionIDKey, job.TransactionID),
		attribute.String(otelhelper.StepIDKey, job.StepID),
		attribute.String(otelhelper.StepTypeKey, string(job.Type)),
		attribute.String(otelhelper.SubscriberIDKey, job.SubscriberID),
	)
	defer span.End()

	logger := w.logger.With(
		"job_id", job.ID,
		"transaction_id", job.TransactionID,
		"step_id", job.StepID,
		"subscriber_id", job.SubscriberID,
	)
	logger.InfoContext(ctx, "running job", "type", job.Type, "attempt", job.Attempts+1)

	err = w.run(ctx, job)
	if err == nil {
		return nil
	}

	otelhelper.SetError(span, err)
	logger.WarnContext(ctx, "job run failed", "error", err, "transient", isTransient(err))

	err = w.lifecycle.Fail(ctx, job, err, isTransient(err))
	if persistence.IsJobStatusConflict(err) {
		logger.WarnContext(ctx, "job moved on before its failure was recorded")

		return nil
	}

	return err
}

func (w *StandardWorker) run(ctx context.Context, job *models.Job) error {
	switch {
	case job.Type.IsChannel():
		return w.sendMessage(ctx, job)
	case job.Type == models.StepTypeDelay:
		return w.lifecycle.Complete(ctx, job, nil, "")
	case job.Type == models.StepTypeDigest:
		return w.lifecycle.Complete(ctx, job, workflow.DigestOutputs(job), models.DetailDigestTriggeredEvents)
	case job.Type == models.StepTypeThrottle:
		return w.lifecycle.Complete(ctx, job, nil, models.DetailThrottlePassed)
	case job.Type == models.StepTypeCustom:
		return w.runCustom(ctx, job)
	default:
		return permanent(fmt.Errorf("%w: %s", ErrUnsupportedStep, job.Type))
	}
}

func (w *StandardWorker) sendMessage(ctx context.Context, job *models.Job) error {
	sub, err := w.subscriber(ctx, job)
	if err != nil {
		return err
	}

	rc, err := w.renderContext(ctx, job, sub)
	if err != nil {
		return err
	}

	_, internal := render.SplitControls(job.Step.Controls)
	if w.skipped(internal.Skip, rc) {
		return w.lifecycle.Skip(ctx, job, nil, models.DetailSkippedByCondition, nil, false)
	}

	providerID, credentials, err := w.integration(ctx, job)
	if errors.Is(err, persistence.ErrIntegrationNotFound) {
		return w.lifecycle.Skip(ctx, job, nil, models.DetailSubscriberNoActiveIntegration, err, false)
	}

	if err != nil {
		return err
	}

	job.ProviderID = providerID

	provider, err := w.providers.Create(providerID, job.Type, credentials)
	if errors.Is(err, providers.ErrProviderNotRegistered) {
		return w.lifecycle.Skip(ctx, job, nil, models.DetailSubscriberNoActiveIntegration, err, false)
	}

	if err != nil {
		w.record(ctx, executionlog.WithRaw(
			executionlog.FromJob(job, models.DetailProviderError, models.DetailStatusFailed), err))

		return permanent(err)
	}

	to, deviceTokens, err := providers.Recipient(job.Type, providerID, sub)
	if err != nil {
		w.record(ctx, executionlog.WithRaw(
			executionlog.FromJob(job, models.DetailSubscriberNoChannelDetails, models.DetailStatusFailed), err))

		return permanent(err)
	}

	output, err := w.renderer.Render(job.Type, job.Step.Controls, rc)

	switch {
	case errors.Is(err, render.ErrContentNotGenerated):
		return w.lifecycle.Skip(ctx, job, nil, models.DetailMessageContentNotGenerated, nil, false)
	case errors.Is(err, render.ErrContentSyntax):
		w.record(ctx, executionlog.WithRaw(
			executionlog.FromJob(job, models.DetailMessageContentSyntaxError, models.DetailStatusFailed), err))

		return permanent(err)
	case err != nil:
		return permanent(err)
	}

	existing, err := w.messages.FindByJob(ctx, job.ID)
	if err == nil {
		w.logger.InfoContext(ctx, "message already sent for job", "job_id", job.ID, "message_id", existing.ID)

		return w.lifecycle.Complete(ctx, job, messageOutputs(existing), models.DetailMessageSent)
	}

	if !errors.Is(err, persistence.ErrMessageNotFound) {
		return err
	}

	started := time.Now()
	result, err := provider.Send(ctx, providers.SendOptions{
		JobID:         job.ID,
		TransactionID: job.TransactionID,
		SubscriberID:  job.SubscriberID,
		To:            to,
		DeviceTokens:  deviceTokens,
		Content:       output.Content(),
		Overrides:     channelOverrides(job.Overrides, job.Type, providerID),
	})
	w.metrics.ProviderSend(string(job.Type), providerID, time.Since(started), err)

	if err != nil {
		w.record(ctx, executionlog.WithRaw(
			executionlog.FromJob(job, models.DetailProviderError, models.DetailStatusFailed), err))

		if providers.IsTransient(err) {
			return transient(err)
		}

		return permanent(err)
	}

	message := &models.Message{
		EnvironmentID:     job.EnvironmentID,
		OrganizationID:    job.OrganizationID,
		JobID:             job.ID,
		NotificationID:    job.NotificationID,
		TransactionID:     job.TransactionID,
		SubscriberID:      job.SubscriberID,
		Channel:           job.Type,
		ProviderID:        providerID,
		Content:           output.Content(),
		ProviderMessageID: result.ID,
		Status:            messageStatusSent,
	}

	err = w.messages.Create(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to store message for job %s: %w", job.ID, err)
	}

	w.record(ctx, executionlog.WithRaw(
		executionlog.FromJob(job, models.DetailMessageCreated, models.DetailStatusSuccess),
		map[string]any{"messageId": message.ID},
	))

	return w.lifecycle.Complete(ctx, job, messageOutputs(message), models.DetailMessageSent)
}

func (w *StandardWorker) runCustom(ctx context.Context, job *models.Job) error {
	if job.BridgeURL == "" || w.bridge == nil {
		return permanent(ErrBridgeNotConfigured)
	}

	sub, err := w.subscriber(ctx, job)
	if err != nil {
		return err
	}

	rc, err := w.renderContext(ctx, job, sub)
	if err != nil {
		return err
	}

	outputs, err := w.bridge.Execute(ctx, job.BridgeURL, job.EnvironmentID, BridgeRequest{
		WorkflowID:    job.WorkflowIdentifier,
		StepID:        job.StepID,
		TransactionID: job.TransactionID,
		Subscriber:    rc.Subscriber,
		Payload:       job.Payload,
		Controls:      job.Step.Controls,
		State:         rc.Steps,
	})
	if err != nil {
		if providers.IsTransient(err) {
			return transient(err)
		}

		return permanent(err)
	}

	return w.lifecycle.Complete(ctx, job, outputs, models.DetailCustomStepExecuted)
}

func (w *StandardWorker) subscriber(ctx context.Context, job *models.Job) (*models.Subscriber, error) {
	sub, err := w.subscribers.FindBySubscriberID(ctx, job.EnvironmentID, job.SubscriberID)
	if errors.Is(err, persistence.ErrSubscriberNotFound) {
		w.record(ctx, executionlog.WithRaw(
			executionlog.FromJob(job, models.DetailSubscriberResolutionFailed, models.DetailStatusFailed), err))

		return nil, permanent(err)
	}

	return sub, err
}

// integration returns the provider and credentials the job is sent with. In-app messages use
// the built-in provider.
func (w *StandardWorker) integration(ctx context.Context, job *models.Job) (string, map[string]any, error) {
	if job.Type == models.StepTypeInApp {
		return providers.InAppProviderID, nil, nil
	}

	integration, err := w.integrations.FindActive(ctx, job.EnvironmentID, job.Type)
	if err != nil {
		return "", nil, err
	}

	return integration.ProviderID, integration.Credentials, nil
}

// skipped evaluates the skip control: a boolean or a rule over the render bindings.
func (w *StandardWorker) skipped(skip any, rc render.Context) bool {
	switch v := skip.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return w.evaluator.Evaluate(v, rc.Bindings()).Result
	}
}

// renderContext collects what the job's templates can reference: the subscriber, the trigger,
// the outputs of the subscriber's completed steps and the digest the job follows, if any.
func (w *StandardWorker) renderContext(ctx context.Context, job *models.Job, sub *models.Subscriber) (render.Context, error) {
	jobs, err := w.jobs.FindByTransaction(ctx, job.EnvironmentID, job.TransactionID)
	if err != nil {
		return render.Context{}, fmt.Errorf("failed to load transaction jobs: %w", err)
	}

	byID := make(map[string]*models.Job, len(jobs))
	steps := make(map[string]any)

	for _, j := range jobs {
		if j.SubscriberID != job.SubscriberID {
			continue
		}

		byID[j.ID] = j

		if j.ID != job.ID && j.Status == models.JobStatusCompleted && j.Outputs != nil {
			steps[j.StepID] = j.Outputs
		}
	}

	rc := render.Context{
		Subscriber: sub.TemplateData(),
		Payload:    job.Payload,
		Tenant:     tenantData(job.Tenant),
		Actor:      job.Actor.TemplateData(),
		Steps:      steps,
	}

	seen := map[string]bool{job.ID: true}
	for parentID := job.DependsOn; parentID != "" && !seen[parentID]; {
		seen[parentID] = true

		parent, ok := byID[parentID]
		if !ok {
			break
		}

		if parent.Type == models.StepTypeDigest {
			rc.Step = parent.Outputs
			if rc.Step == nil {
				rc.Step = workflow.DigestOutputs(parent)
			}

			break
		}

		parentID = parent.DependsOn
	}

	return rc, nil
}

func (w *StandardWorker) record(ctx context.Context, detail *models.ExecutionDetail) {
	err := w.details.Create(ctx, detail)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to record execution detail",
			"detail", detail.Detail,
			"job_id", detail.JobID,
			"error", err,
		)
	}
}

func messageOutputs(message *models.Message) map[string]any {
	return map[string]any{
		"messageId":         message.ID,
		"providerMessageId": message.ProviderMessageID,
		"providerId":        message.ProviderID,
	}
}

// channelOverrides merges the overrides of the channel with those of the provider, the latter
// taking precedence.
func channelOverrides(overrides map[string]any, channel models.StepType, providerID string) map[string]any {
	merged := make(map[string]any)

	if forChannel, ok := overrides[string(channel)].(map[string]any); ok {
		maps.Copy(merged, forChannel)
	}

	if byProvider, ok := overrides["providers"].(map[string]any); ok {
		if forProvider, ok := byProvider[providerID].(map[string]any); ok {
			maps.Copy(merged, forProvider)
		}
	}

	if len(merged) == 0 {
		return nil
	}

	return merged
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
