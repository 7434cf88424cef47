// Package workflow turns trigger events into jobs and moves those jobs through their lifecycle.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/otelhelper"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxBulkEvents bounds the events of one bulk trigger.
const MaxBulkEvents = 100

// ResourceValidator rejects triggers of organizations over their workflow or step limits.
type ResourceValidator interface {
	Validate(ctx context.Context, organizationID string, workflow *models.Workflow) error
}

// TriggerService validates trigger requests and hands them to the workflow queue.
type TriggerService struct {
	workflows persistence.WorkflowRepository
	tenants   persistence.TenantRepository
	resources ResourceValidator
	queue     queue.Queue
	metrics   metrics.Sink
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewTriggerService(
	p persistence.Persistence,
	resources ResourceValidator,
	q queue.Queue,
	sink metrics.Sink,
	tracer trace.Tracer,
	logger *slog.Logger,
) *TriggerService {
	return &TriggerService{
		workflows: p.WorkflowRepository(),
		tenants:   p.TenantRepository(),
		resources: resources,
		queue:     q,
		metrics:   sink,
		tracer:    tracer,
		logger:    logger.With("module", "trigger"),
	}
}

// Trigger validates the command synchronously and enqueues it for expansion. Inactive or empty
// workflows and unknown tenants are reported through the response status, not as errors.
func (s *TriggerService) Trigger(ctx context.Context, cmd models.TriggerCommand) (models.TriggerResponse, error) {
	if cmd.TransactionID == "" {
		cmd.TransactionID = uuid.NewString()
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.trigger",
		attribute.String(otelhelper.EnvironmentIDKey, cmd.EnvironmentID),
		attribute.String(otelhelper.WorkflowIdentifierKey, cmd.WorkflowIdentifier),
		attribute.String(otelhelper.TransactionIDKey, cmd.TransactionID),
	)
	defer span.End()

	response, err := s.trigger(ctx, cmd)
	if err != nil {
		otelhelper.SetError(span, err)
		s.metrics.TriggerProcessed(string(models.TriggerStatusError))

		return response, err
	}

	s.metrics.TriggerProcessed(string(response.Status))

	return response, nil
}

func (s *TriggerService) trigger(ctx context.Context, cmd models.TriggerCommand) (models.TriggerResponse, error) {
	logger := s.logger.With(
		"environment_id", cmd.EnvironmentID,
		"workflow", cmd.WorkflowIdentifier,
		"transaction_id", cmd.TransactionID,
	)

	err := ValidateTriggerCommand(cmd)
	if err != nil {
		return models.TriggerResponse{}, err
	}

	workflow, err := s.workflows.GetByIdentifier(ctx, cmd.EnvironmentID, cmd.WorkflowIdentifier)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return models.TriggerResponse{}, fmt.Errorf("workflow %s: %w", cmd.WorkflowIdentifier, ErrWorkflowNotFound)
		}

		return models.TriggerResponse{}, fmt.Errorf("failed to load workflow %s: %w", cmd.WorkflowIdentifier, err)
	}

	if status, ok := workflowStatus(workflow); !ok {
		logger.InfoContext(ctx, "trigger not accepted", "status", status)

		return models.TriggerResponse{Acknowledged: true, Status: status, TransactionID: cmd.TransactionID}, nil
	}

	err = ValidatePayload(workflow, cmd.Payload)
	if err != nil {
		return models.TriggerResponse{}, err
	}

	if cmd.Tenant != nil {
		tenant, found, err := s.resolveTenant(ctx, cmd.EnvironmentID, cmd.Tenant)
		if err != nil {
			return models.TriggerResponse{}, err
		}

		if !found {
			logger.InfoContext(ctx, "tenant not found", "tenant", cmd.Tenant.Identifier)

			return models.TriggerResponse{
				Acknowledged:  true,
				Status:        models.TriggerStatusNoTenantFound,
				TransactionID: cmd.TransactionID,
			}, nil
		}

		cmd.Tenant = tenant
	}

	err = s.resources.Validate(ctx, cmd.OrganizationID, workflow)
	if err != nil {
		return models.TriggerResponse{}, err
	}

	data := jobData(cmd)

	err = queue.EnqueueJSON(ctx, s.queue, queue.TopicWorkflow, cmd.TransactionID, data,
		queue.WithMessageID(cmd.EnvironmentID+":"+cmd.TransactionID))
	if err != nil {
		return models.TriggerResponse{}, fmt.Errorf("failed to enqueue trigger: %w", err)
	}

	logger.InfoContext(ctx, "trigger accepted", "addressing", data.AddressingType, "recipients", len(data.To))

	return models.TriggerResponse{
		Acknowledged:  true,
		Status:        models.TriggerStatusProcessed,
		TransactionID: cmd.TransactionID,
	}, nil
}

// Broadcast triggers the workflow for every subscriber of the environment.
func (s *TriggerService) Broadcast(ctx context.Context, cmd models.TriggerCommand) (models.TriggerResponse, error) {
	cmd.AddressingType = models.AddressingBroadcast
	cmd.To = nil

	return s.Trigger(ctx, cmd)
}

// Bulk triggers each command independently. A failing event gets an error response and does not
// stop the others.
func (s *TriggerService) Bulk(ctx context.Context, cmds []models.TriggerCommand) ([]models.TriggerResponse, error) {
	if len(cmds) > MaxBulkEvents {
		return nil, fmt.Errorf("%d events, at most %d are allowed: %w", len(cmds), MaxBulkEvents, ErrTooManyEvents)
	}

	responses := make([]models.TriggerResponse, 0, len(cmds))

	for _, cmd := range cmds {
		response, err := s.Trigger(ctx, cmd)
		if err != nil {
			response = models.TriggerResponse{
				Acknowledged:  true,
				Status:        models.TriggerStatusError,
				TransactionID: cmd.TransactionID,
				Error:         []string{err.Error()},
			}
		}

		responses = append(responses, response)
	}

	return responses, nil
}

func (s *TriggerService) resolveTenant(ctx context.Context, environmentID string, ref *models.TenantRef) (*models.TenantRef, bool, error) {
	tenant, err := s.tenants.GetByIdentifier(ctx, environmentID, ref.Identifier)
	if err == nil {
		return &models.TenantRef{Identifier: tenant.Identifier, Name: tenant.Name, Data: tenant.Data}, true, nil
	}

	if !errors.Is(err, persistence.ErrTenantNotFound) {
		return nil, false, fmt.Errorf("failed to load tenant %s: %w", ref.Identifier, err)
	}

	if ref.Name == "" && len(ref.Data) == 0 {
		return nil, false, nil
	}

	tenant = &models.Tenant{
		EnvironmentID: environmentID,
		Identifier:    ref.Identifier,
		Name:          ref.Name,
		Data:          ref.Data,
	}

	err = s.tenants.Save(ctx, tenant)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create tenant %s: %w", ref.Identifier, err)
	}

	return ref, true, nil
}

func workflowStatus(workflow *models.Workflow) (models.TriggerStatus, bool) {
	switch {
	case !workflow.Active:
		return models.TriggerStatusNotActive, false
	case len(workflow.Steps) == 0:
		return models.TriggerStatusNoStepsDefined, false
	case len(workflow.ActiveSteps()) == 0:
		return models.TriggerStatusNoActiveStepsDefined, false
	default:
		return models.TriggerStatusProcessed, true
	}
}

func jobData(cmd models.TriggerCommand) models.TriggerJobData {
	addressing := cmd.AddressingType
	if addressing == "" {
		addressing = models.AddressingMulticast
	}

	data := models.TriggerJobData{
		EnvironmentID:  cmd.EnvironmentID,
		OrganizationID: cmd.OrganizationID,
		UserID:         cmd.UserID,
		Identifier:     cmd.WorkflowIdentifier,
		Payload:        cmd.Payload,
		Overrides:      cmd.Overrides,
		TransactionID:  cmd.TransactionID,
		Tenant:         cmd.Tenant,
		BridgeURL:      cmd.BridgeURL,
		BridgeWorkflow: cmd.BridgeWorkflow,
		AddressingType: addressing,
	}

	if cmd.Actor != nil {
		actor := cmd.Actor.SubscriberPayload
		data.Actor = &actor
	}

	if addressing == models.AddressingMulticast {
		for _, recipient := range cmd.To.Dedupe() {
			data.To = append(data.To, recipient.SubscriberPayload)
		}
	}

	return data
}
