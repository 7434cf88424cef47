package services

import (
	"io"
	"log/slog"
	"testing"

	"github.com/novu-co/novu-sub003/pkg/filter"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence/file"
	"github.com/novu-co/novu-sub003/pkg/template"
	"github.com/novu-co/novu-sub003/pkg/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflowService(t *testing.T) (*Workflow, *file.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(
		persistence,
		tier.NewValidator(persistence.OrganizationRepository(), logger),
		filter.NewEvaluator(nil),
		template.NewEngine(),
		logger,
	)

	return service, persistence
}

func testWorkflow(steps ...*models.Step) *models.Workflow {
	return &models.Workflow{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Identifier:     "welcome",
		Name:           "Welcome",
		Active:         true,
		Steps:          steps,
	}
}

func emailStep() *models.Step {
	return &models.Step{
		ID:       "email",
		Type:     models.StepTypeEmail,
		Active:   true,
		Controls: map[string]any{"subject": "Hello {{ subscriber.firstName }}", "body": "Welcome"},
	}
}

func TestWorkflow_HealthCheck(t *testing.T) {
	service, _ := newWorkflowService(t)

	message, ok := service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}

func TestWorkflow_Save(t *testing.T) {
	service, _ := newWorkflowService(t)

	created, err := service.Save(t.Context(), testWorkflow(emailStep()))
	require.NoError(t, err)
	require.NotNil(t, created.Workflow)
	assert.NotEmpty(t, created.Workflow.ID)
	assert.False(t, created.Workflow.CreatedAt.IsZero())
	assert.Empty(t, created.Issues)

	fetched, err := service.FetchByIdentifier(t.Context(), "env-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, created.Workflow.ID, fetched.ID)
	assert.Equal(t, "Welcome", fetched.Name)
	require.Len(t, fetched.Steps, 1)
}

func TestWorkflow_Save_ReplacesByIdentifier(t *testing.T) {
	service, _ := newWorkflowService(t)

	first, err := service.Save(t.Context(), testWorkflow(emailStep()))
	require.NoError(t, err)

	update := testWorkflow(emailStep())
	update.Name = "Welcome v2"

	second, err := service.Save(t.Context(), update)
	require.NoError(t, err)

	assert.Equal(t, first.Workflow.ID, second.Workflow.ID)
	assert.WithinDuration(t, first.Workflow.CreatedAt, second.Workflow.CreatedAt, 0)

	fetched, err := service.FetchByIdentifier(t.Context(), "env-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Welcome v2", fetched.Name)
}

func TestWorkflow_Save_ReportsTierIssues(t *testing.T) {
	service, persistence := newWorkflowService(t)

	require.NoError(t, persistence.OrganizationRepository().Save(t.Context(), &models.Organization{
		ID:              "org-1",
		APIServiceLevel: models.ServiceLevelFree,
	}))

	delay := &models.Step{
		ID:       "wait",
		Type:     models.StepTypeDelay,
		Active:   true,
		Metadata: models.StepMetadata{Amount: 45, Unit: models.TimeUnitDays},
	}

	saved, err := service.Save(t.Context(), testWorkflow(delay, emailStep()))
	require.NoError(t, err)
	require.Len(t, saved.Issues["wait"], 1)
	assert.Equal(t, tier.IssueTierLimitExceeded, saved.Issues["wait"][0].Type)
	assert.NotContains(t, saved.Issues, "email")
}

func TestWorkflow_Save_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(w *models.Workflow)
		wantErr error
	}{
		{
			name:    "missing identifier",
			mutate:  func(w *models.Workflow) { w.Identifier = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown step type",
			mutate:  func(w *models.Workflow) { w.Steps[0].Type = "fax" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "duplicate step id",
			mutate:  func(w *models.Workflow) { w.Steps = append(w.Steps, emailStep()) },
			wantErr: ErrDuplicateStepID,
		},
		{
			name: "unknown condition operator",
			mutate: func(w *models.Workflow) {
				w.Steps[0].Conditions = map[string]any{"resembles": []any{1, 2}}
			},
			wantErr: ErrInvalidCondition,
		},
		{
			name: "skip control that is not a rule",
			mutate: func(w *models.Workflow) {
				w.Steps[0].Controls["skip"] = map[string]any{"a": 1, "b": 2}
			},
			wantErr: ErrInvalidCondition,
		},
		{
			name: "broken template",
			mutate: func(w *models.Workflow) {
				w.Steps[0].Controls["body"] = "{% if subscriber.firstName %}Hello"
			},
			wantErr: ErrInvalidControls,
		},
		{
			name: "delay without window",
			mutate: func(w *models.Workflow) {
				w.Steps = append(w.Steps, &models.Step{ID: "wait", Type: models.StepTypeDelay, Active: true})
			},
			wantErr: ErrInvalidStepMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _ := newWorkflowService(t)

			workflow := testWorkflow(emailStep())
			tt.mutate(workflow)

			_, err := service.Save(t.Context(), workflow)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestWorkflow_Save_Nil(t *testing.T) {
	service, _ := newWorkflowService(t)

	_, err := service.Save(t.Context(), nil)
	require.ErrorIs(t, err, ErrWorkflowNil)
}

func TestWorkflow_Save_BoolSkipControl(t *testing.T) {
	service, _ := newWorkflowService(t)

	step := emailStep()
	step.Controls["skip"] = true

	_, err := service.Save(t.Context(), testWorkflow(step))
	require.NoError(t, err)
}

func TestWorkflow_FetchByIdentifier_NotFound(t *testing.T) {
	service, _ := newWorkflowService(t)

	workflow, err := service.FetchByIdentifier(t.Context(), "env-1", "non-existent")
	require.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.Nil(t, workflow)
}

func TestWorkflow_Delete(t *testing.T) {
	service, _ := newWorkflowService(t)

	_, err := service.Save(t.Context(), testWorkflow(emailStep()))
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), "env-1", "welcome"))

	_, err = service.FetchByIdentifier(t.Context(), "env-1", "welcome")
	require.ErrorIs(t, err, ErrWorkflowNotFound)

	err = service.Delete(t.Context(), "env-1", "welcome")
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}
