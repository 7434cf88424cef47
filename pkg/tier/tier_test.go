package tier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/novu-co/novu-sub003/pkg/mocks"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type failingOrganizations struct {
	calls int
}

func (f *failingOrganizations) Save(context.Context, *models.Organization) error { return nil }

func (f *failingOrganizations) GetByID(context.Context, string) (*models.Organization, error) {
	f.calls++

	return nil, errors.New("database unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*Validator, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	for _, organization := range []*models.Organization{
		{ID: "free", Name: "Free", APIServiceLevel: models.ServiceLevelFree},
		{ID: "business", Name: "Business", APIServiceLevel: models.ServiceLevelBusiness},
		{ID: "unset", Name: "Unset"},
	} {
		require.NoError(t, p.OrganizationRepository().Save(t.Context(), organization))
	}

	return NewValidator(p.OrganizationRepository(), discardLogger()), p
}

func TestValidator_Validate(t *testing.T) {
	v, _ := setup(t)
	ctx := t.Context()
	day := 24 * time.Hour

	tests := []struct {
		name         string
		organization string
		duration     time.Duration
		stepType     models.StepType
		issues       int
	}{
		{"free within cap", "free", 30 * day, models.StepTypeDelay, 0},
		{"free over cap", "free", 31 * day, models.StepTypeDelay, 1},
		{"free digest over cap", "free", 45 * day, models.StepTypeDigest, 1},
		{"business within cap", "business", 90 * day, models.StepTypeDigest, 0},
		{"business over cap", "business", 91 * day, models.StepTypeDelay, 1},
		{"unset uses business cap", "unset", 60 * day, models.StepTypeDelay, 0},
		{"missing organization uses business cap", "missing", 60 * day, models.StepTypeDelay, 0},
		{"channel steps are not checked", "free", 365 * day, models.StepTypeEmail, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := v.Validate(ctx, tt.organization, tt.duration, tt.stepType)
			assert.Len(t, issues, tt.issues)

			if tt.issues > 0 {
				assert.Equal(t, IssueTierLimitExceeded, issues[0].Type)
				assert.Contains(t, issues[0].Message, "days")
			}
		})
	}
}

func TestValidator_SkipsLookupForNonDeferringSteps(t *testing.T) {
	organizations := &failingOrganizations{}
	v := NewValidator(organizations, discardLogger())

	assert.Empty(t, v.Validate(t.Context(), "org", time.Hour, models.StepTypeSMS))
	assert.Equal(t, 0, organizations.calls)

	assert.Empty(t, v.Validate(t.Context(), "org", time.Hour, models.StepTypeDelay))
	assert.Equal(t, 1, organizations.calls)
}

func TestValidator_ValidateStep(t *testing.T) {
	v, _ := setup(t)

	step := &models.Step{
		Type: models.StepTypeDigest,
		Metadata: models.StepMetadata{
			Amount:         1,
			Unit:           models.TimeUnitDays,
			LookBackWindow: &models.TimeWindow{Amount: 6, Unit: models.TimeUnitWeeks},
		},
	}

	issues := v.ValidateStep(t.Context(), "free", step)
	require.Len(t, issues, 1)
	assert.Equal(t, 42*24*time.Hour, issues[0].Requested)
}

func TestResourceValidator(t *testing.T) {
	v, p := setup(t)
	ctx := t.Context()
	resources := NewResourceValidator(v, p.WorkflowRepository())

	steps := make([]*models.Step, 11)
	for i := range steps {
		steps[i] = &models.Step{ID: string(rune('a' + i)), Type: models.StepTypeEmail, Active: true}
	}

	large := &models.Workflow{Identifier: "large", Steps: steps}

	err := resources.Validate(ctx, "free", large)
	assert.ErrorIs(t, err, ErrResourceLimitExceeded)

	assert.NoError(t, resources.Validate(ctx, "business", large))
}

func TestResourceValidator_WorkflowCount(t *testing.T) {
	ctx := t.Context()
	organizations := &mocks.MockOrganizationRepository{}
	organizations.On("GetByID", mock.Anything, "org-1").
		Return(&models.Organization{ID: "org-1", APIServiceLevel: models.ServiceLevelFree}, nil)

	workflows := &mocks.MockWorkflowRepository{}
	resources := NewResourceValidator(NewValidator(organizations, discardLogger()), workflows)
	small := &models.Workflow{Identifier: "small"}

	workflows.On("CountByOrganization", mock.Anything, "org-1").Return(21, nil).Once()
	assert.ErrorIs(t, resources.Validate(ctx, "org-1", small), ErrResourceLimitExceeded)

	workflows.On("CountByOrganization", mock.Anything, "org-1").Return(20, nil).Once()
	assert.NoError(t, resources.Validate(ctx, "org-1", small))

	workflows.On("CountByOrganization", mock.Anything, "org-1").Return(0, errors.New("database unavailable")).Once()
	err := resources.Validate(ctx, "org-1", small)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrResourceLimitExceeded)

	workflows.AssertExpectations(t)
}
