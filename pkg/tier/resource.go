package tier

import (
	"context"
	"errors"
	"fmt"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

var ErrResourceLimitExceeded = errors.New("resource limit exceeded")

// ResourceLimits caps what an organization may define. Zero means unlimited.
type ResourceLimits struct {
	MaxWorkflows        int
	MaxStepsPerWorkflow int
}

var resourceLimits = map[models.ServiceLevel]ResourceLimits{
	models.ServiceLevelFree:       {MaxWorkflows: 20, MaxStepsPerWorkflow: 10},
	models.ServiceLevelUnset:      {MaxWorkflows: 100, MaxStepsPerWorkflow: 20},
	models.ServiceLevelBusiness:   {MaxWorkflows: 100, MaxStepsPerWorkflow: 20},
	models.ServiceLevelEnterprise: {MaxWorkflows: 0, MaxStepsPerWorkflow: 20},
}

func LimitsFor(level models.ServiceLevel) ResourceLimits {
	if limits, ok := resourceLimits[level]; ok {
		return limits
	}

	return resourceLimits[models.ServiceLevelUnset]
}

// ResourceValidator rejects a trigger of an organization that is over its workflow or step limits.
type ResourceValidator struct {
	tiers     *Validator
	workflows persistence.WorkflowRepository
}

func NewResourceValidator(tiers *Validator, workflows persistence.WorkflowRepository) *ResourceValidator {
	return &ResourceValidator{tiers: tiers, workflows: workflows}
}

func (r *ResourceValidator) Validate(ctx context.Context, organizationID string, workflow *models.Workflow) error {
	limits := LimitsFor(r.tiers.serviceLevel(ctx, organizationID))

	if limits.MaxStepsPerWorkflow > 0 && len(workflow.Steps) > limits.MaxStepsPerWorkflow {
		return fmt.Errorf("workflow %s has %d steps, the limit is %d: %w",
			workflow.Identifier, len(workflow.Steps), limits.MaxStepsPerWorkflow, ErrResourceLimitExceeded)
	}

	if limits.MaxWorkflows > 0 {
		count, err := r.workflows.CountByOrganization(ctx, organizationID)
		if err != nil {
			return fmt.Errorf("failed to count workflows: %w", err)
		}

		if count > limits.MaxWorkflows {
			return fmt.Errorf("organization has %d workflows, the limit is %d: %w",
				count, limits.MaxWorkflows, ErrResourceLimitExceeded)
		}
	}

	return nil
}
