package file

import (
	"testing"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence("/does/not/exist/anywhere").HealthCheck(t.Context()))
	assert.NoError(t, NewPersistence(t.TempDir()).Close(t.Context()))
}

func TestWorkflowRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).WorkflowRepository()

	workflow := &models.Workflow{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Identifier:     "welcome",
		Name:           "Welcome",
		Active:         true,
		Steps:          []*models.Step{{ID: "email", Type: models.StepTypeEmail, Active: true}},
	}
	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)
	assert.False(t, workflow.CreatedAt.IsZero())

	found, err := repo.GetByIdentifier(ctx, "env-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, found.ID)
	require.Len(t, found.Steps, 1)

	_, err = repo.GetByIdentifier(ctx, "env-2", "welcome")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	duplicate := &models.Workflow{EnvironmentID: "env-1", OrganizationID: "org-1", Identifier: "welcome", Name: "Copy"}
	err = repo.Save(ctx, duplicate)
	assert.ErrorIs(t, err, persistence.ErrWorkflowAlreadyExists)

	count, err := repo.CountByOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	count, err = repo.CountByOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNotificationRepository_FindOrCreate(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).NotificationRepository()

	first, created, err := repo.FindOrCreate(ctx, &models.Notification{EnvironmentID: "env-1", TransactionID: "tx-1"})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.FindOrCreate(ctx, &models.Notification{EnvironmentID: "env-1", TransactionID: "tx-1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, err = repo.GetByTransactionID(ctx, "env-1", "tx-2")
	assert.ErrorIs(t, err, persistence.ErrNotificationNotFound)
}

func TestSubscriberRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).SubscriberRepository()

	subscriber := &models.Subscriber{EnvironmentID: "env-1", SubscriberID: "sub-1", Email: "a@example.com"}
	require.NoError(t, repo.Create(ctx, subscriber))

	err := repo.Create(ctx, &models.Subscriber{EnvironmentID: "env-1", SubscriberID: "sub-1"})
	assert.True(t, persistence.IsSubscriberAlreadyExists(err))

	require.NoError(t, repo.Create(ctx, &models.Subscriber{EnvironmentID: "env-2", SubscriberID: "sub-1"}))

	found, err := repo.FindBySubscriberID(ctx, "env-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", found.Email)

	found.FirstName = "Ana"
	require.NoError(t, repo.Update(ctx, found))

	found, err = repo.FindBySubscriberID(ctx, "env-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", found.FirstName)

	_, err = repo.FindBySubscriberID(ctx, "env-1", "missing")
	assert.True(t, persistence.IsSubscriberNotFound(err))

	list, err := repo.ListByEnvironment(ctx, "env-1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExecutionDetailRepository_CreateIsIdempotent(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).ExecutionDetailRepository()

	detail := &models.ExecutionDetail{
		ID:             "detail-1",
		EnvironmentID:  "env-1",
		NotificationID: "n-1",
		TransactionID:  "tx-1",
		JobID:          "job-1",
		Detail:         models.DetailStepCreated,
		Source:         models.DetailSourceInternal,
		Status:         models.DetailStatusPending,
	}
	require.NoError(t, repo.Create(ctx, detail))

	again := *detail
	again.Detail = models.DetailJobFailed
	require.NoError(t, repo.Create(ctx, &again))

	details, err := repo.FindByTransaction(ctx, "env-1", "tx-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, models.DetailStepCreated, details[0].Detail)

	byJob, err := repo.FindByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, byJob, 1)
}

func TestIntegrationRepository_FindActivePrefersPrimary(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).IntegrationRepository()

	require.NoError(t, repo.Save(ctx, &models.Integration{EnvironmentID: "env-1", ProviderID: "sendgrid", Channel: models.StepTypeEmail, Active: true}))
	require.NoError(t, repo.Save(ctx, &models.Integration{EnvironmentID: "env-1", ProviderID: "ses", Channel: models.StepTypeEmail, Active: true, Primary: true}))
	require.NoError(t, repo.Save(ctx, &models.Integration{EnvironmentID: "env-1", ProviderID: "twilio", Channel: models.StepTypeSMS}))

	integration, err := repo.FindActive(ctx, "env-1", models.StepTypeEmail)
	require.NoError(t, err)
	assert.Equal(t, "ses", integration.ProviderID)

	_, err = repo.FindActive(ctx, "env-1", models.StepTypeSMS)
	assert.ErrorIs(t, err, persistence.ErrIntegrationNotFound)
}

func TestStore_RejectsPathTraversal(t *testing.T) {
	s := newStore[models.Job](t.TempDir(), "jobs")

	_, err := s.load("../etc/passwd")
	assert.Error(t, err)

	assert.Error(t, s.save("a/b", &models.Job{}))
}
