package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/novu-co/novu-sub003/pkg/filter"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/template"
	"github.com/novu-co/novu-sub003/pkg/tier"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	validate = validator.New(validator.WithRequiredStructEnabled())
)

type Workflow struct {
	persistence persistence.Persistence
	tiers       *tier.Validator
	evaluator   *filter.Evaluator
	engine      *template.Engine
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(
	persistence persistence.Persistence,
	tiers *tier.Validator,
	evaluator *filter.Evaluator,
	engine *template.Engine,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		persistence: persistence,
		tiers:       tiers,
		evaluator:   evaluator,
		engine:      engine,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// SaveWorkflowResponse is a stored workflow together with the tier issues of its steps. Issues
// do not prevent saving; the affected steps are dropped at execution time.
type SaveWorkflowResponse struct {
	Workflow *models.Workflow        `json:"workflow"`
	Issues   map[string][]tier.Issue `json:"issues,omitempty"`
}

// Save validates a workflow and creates it, or replaces the workflow with the same identifier in
// the environment.
func (w *Workflow) Save(ctx context.Context, workflow *models.Workflow) (*SaveWorkflowResponse, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	err := w.validateWorkflow(workflow)
	if err != nil {
		return nil, err
	}

	existing, err := w.persistence.WorkflowRepository().GetByIdentifier(ctx, workflow.EnvironmentID, workflow.Identifier)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflow.Identifier, err)
	}

	if existing != nil {
		workflow.ID = existing.ID
		workflow.CreatedAt = existing.CreatedAt
	} else {
		workflow.ID = ""
		workflow.CreatedAt = time.Time{}
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		// Other persistence errors remain as 500s
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	issues := map[string][]tier.Issue{}

	for _, step := range workflow.ActiveSteps() {
		stepIssues := w.tiers.ValidateStep(ctx, workflow.OrganizationID, step)
		if len(stepIssues) > 0 {
			issues[step.ID] = stepIssues
		}
	}

	w.logger.InfoContext(ctx, "workflow saved",
		"workflow_id", workflow.ID,
		"identifier", workflow.Identifier,
		"steps", len(workflow.Steps),
		"tier_issues", len(issues),
	)

	response := &SaveWorkflowResponse{Workflow: workflow}
	if len(issues) > 0 {
		response.Issues = issues
	}

	return response, nil
}

// FetchByIdentifier retrieves a workflow by its trigger identifier.
func (w *Workflow) FetchByIdentifier(ctx context.Context, environmentID, identifier string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByIdentifier(ctx, environmentID, identifier)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, ErrWorkflowNotFound
		}

		return nil, err
	}

	return workflow, nil
}

// Delete removes a workflow by its trigger identifier.
func (w *Workflow) Delete(ctx context.Context, environmentID, identifier string) error {
	existing, err := w.FetchByIdentifier(ctx, environmentID, identifier)
	if err != nil {
		return err
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, existing.ID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func (w *Workflow) validateWorkflow(workflow *models.Workflow) error {
	err := validate.Struct(workflow)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			messages := make([]string, 0, len(validationErrors))
			for _, fieldErr := range validationErrors {
				messages = append(messages, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
			}

			return NewValidationError("validateWorkflow", "INVALID_WORKFLOW", strings.Join(messages, "; "), ErrInvalidRequest)
		}

		return NewValidationError("validateWorkflow", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	seen := make(map[string]struct{}, len(workflow.Steps))

	for _, step := range workflow.Steps {
		if step == nil {
			return NewValidationError("validateWorkflow", "INVALID_WORKFLOW", "steps cannot be null", ErrInvalidRequest)
		}

		if _, ok := seen[step.ID]; ok {
			return NewValidationError("validateWorkflow", "DUPLICATE_STEP_ID",
				fmt.Sprintf("step id '%s' is used more than once", step.ID), ErrDuplicateStepID)
		}

		seen[step.ID] = struct{}{}

		err = w.validateStep(step)
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *Workflow) validateStep(step *models.Step) error {
	if step.Conditions != nil {
		err := w.evaluator.ValidateRule(step.Conditions)
		if err != nil {
			return NewValidationError("validateStep", "INVALID_CONDITION",
				fmt.Sprintf("step '%s': %v", step.ID, err), ErrInvalidCondition)
		}
	}

	if skip, ok := step.Controls["skip"]; ok {
		if _, isBool := skip.(bool); !isBool && !w.evaluator.IsValidRule(skip) {
			return NewValidationError("validateStep", "INVALID_CONDITION",
				fmt.Sprintf("step '%s': skip control is not a valid rule", step.ID), ErrInvalidCondition)
		}
	}

	err := filter.ValidateStepFilters(step.Filters)
	if err != nil {
		return NewValidationError("validateStep", "INVALID_FILTER",
			fmt.Sprintf("step '%s': %v", step.ID, err), ErrInvalidFilter)
	}

	err = w.validateControls(step.ID, step.Controls)
	if err != nil {
		return err
	}

	if step.Type.IsAction() {
		window, err := step.Metadata.Window()
		if err != nil || window <= 0 {
			return NewValidationError("validateStep", "INVALID_STEP_METADATA",
				fmt.Sprintf("step '%s': %s steps need a positive amount and a valid unit", step.ID, step.Type),
				ErrInvalidStepMetadata)
		}
	}

	return nil
}

// validateControls compiles every string control value, nested ones included.
func (w *Workflow) validateControls(stepID string, value any) error {
	switch v := value.(type) {
	case string:
		err := w.engine.Validate(v)
		if err != nil {
			return NewValidationError("validateControls", "INVALID_CONTROLS",
				fmt.Sprintf("step '%s': %v", stepID, err), ErrInvalidControls)
		}
	case map[string]any:
		for _, item := range v {
			err := w.validateControls(stepID, item)
			if err != nil {
				return err
			}
		}
	case []any:
		for _, item := range v {
			err := w.validateControls(stepID, item)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
