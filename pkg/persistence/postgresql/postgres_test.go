package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{
		"messages", "execution_details", "jobs", "notifications", "integrations", "tenants",
		"subscribers", "workflows", "organizations", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("novu_test"),
			postgres.WithUsername("novu"),
			postgres.WithPassword("novu"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func digestCandidate(value string, event map[string]any) *models.Job {
	return &models.Job{
		Type:               models.StepTypeDigest,
		Status:             models.JobStatusDelayed,
		EnvironmentID:      "env-1",
		OrganizationID:     "org-1",
		NotificationID:     "n-1",
		TransactionID:      "tx-" + uuid.NewString(),
		WorkflowID:         "wf-1",
		WorkflowIdentifier: "welcome",
		StepID:             "digest",
		Step:               models.Step{ID: "digest", Type: models.StepTypeDigest, Active: true},
		SubscriberID:       "sub-1",
		Digest: &models.JobDigest{
			Amount:      5,
			Unit:        models.TimeUnitMinutes,
			DigestValue: value,
			Events:      []map[string]any{event},
		},
	}
}

func stepJob(transactionID, stepID string, stepType models.StepType) *models.Job {
	return &models.Job{
		Type:               stepType,
		Status:             models.JobStatusPending,
		EnvironmentID:      "env-1",
		OrganizationID:     "org-1",
		NotificationID:     "n-1",
		TransactionID:      transactionID,
		WorkflowID:         "wf-1",
		WorkflowIdentifier: "welcome",
		StepID:             stepID,
		Step:               models.Step{ID: stepID, Type: stepType, Active: true},
		SubscriberID:       "sub-1",
		Payload:            map[string]any{"name": "Ana"},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "jobs", "subscribers", "execution_details", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestWorkflowRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Identifier:     "welcome",
		Name:           "Welcome",
		Active:         true,
		Steps: []*models.Step{
			{ID: "email", Name: "Email", Type: models.StepTypeEmail, Active: true, Controls: map[string]any{"subject": "Hi"}},
		},
	}
	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)

	found, err := repo.GetByIdentifier(ctx, "env-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, found.ID)
	require.Len(t, found.Steps, 1)
	assert.Equal(t, "Hi", found.Steps[0].Controls["subject"])

	duplicate := &models.Workflow{EnvironmentID: "env-1", OrganizationID: "org-1", Identifier: "welcome", Name: "Again"}
	err = repo.Save(ctx, duplicate)
	assert.ErrorIs(t, err, persistence.ErrWorkflowAlreadyExists)

	count, err := repo.CountByOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByIdentifier(ctx, "env-1", "welcome")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestNotificationRepository_FindOrCreate(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.NotificationRepository()

	first, created, err := repo.FindOrCreate(ctx, &models.Notification{
		EnvironmentID: "env-1", OrganizationID: "org-1", TransactionID: "tx-1", WorkflowID: "wf-1", WorkflowIdentifier: "welcome",
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.FindOrCreate(ctx, &models.Notification{
		EnvironmentID: "env-1", OrganizationID: "org-1", TransactionID: "tx-1", WorkflowID: "wf-1", WorkflowIdentifier: "welcome",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestJobRepository_UpdateStatusCompareAndSet(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.JobRepository()

	job := stepJob("tx-1", "email", models.StepTypeEmail)
	require.NoError(t, repo.CreateBatch(ctx, []*models.Job{job}))

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMaxAttempts, stored.MaxAttempts)
	assert.Equal(t, "Ana", stored.Payload["name"])

	updated, err := repo.UpdateStatus(ctx, job.ID, []models.JobStatus{models.JobStatusPending}, persistence.JobUpdate{Status: models.JobStatusQueued})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, updated.Status)

	_, err = repo.UpdateStatus(ctx, job.ID, []models.JobStatus{models.JobStatusPending}, persistence.JobUpdate{Status: models.JobStatusQueued})
	assert.True(t, persistence.IsJobStatusConflict(err))

	attempts := 1
	message := "boom"
	updated, err = repo.UpdateStatus(ctx, job.ID, []models.JobStatus{models.JobStatusQueued}, persistence.JobUpdate{
		Status:   models.JobStatusFailed,
		Attempts: &attempts,
		Error:    &message,
		Outputs:  map[string]any{"reason": "timeout"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Attempts)
	assert.Equal(t, "boom", updated.Error)
	assert.Equal(t, "timeout", updated.Outputs["reason"])

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsJobNotFound(err))
}

func TestJobRepository_Queries(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.JobRepository()

	delay := stepJob("tx-1", "delay", models.StepTypeDelay)
	delay.ID, _ = persistence.NewID()
	email := stepJob("tx-1", "email", models.StepTypeEmail)
	email.ID, _ = persistence.NewID()
	email.DependsOn = delay.ID
	other := stepJob("tx-2", "email", models.StepTypeEmail)
	other.SubscriberID = "sub-2"

	require.NoError(t, repo.CreateBatch(ctx, []*models.Job{delay, email, other}))

	jobs, err := repo.FindByTransaction(ctx, "env-1", "tx-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, delay.ID, jobs[0].ID)
	assert.Equal(t, email.ID, jobs[1].ID)

	dependents, err := repo.FindDependents(ctx, delay.ID)
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, email.ID, dependents[0].ID)

	exists, err := repo.ExistsForSubscriber(ctx, "env-1", "tx-1", "sub-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsForSubscriber(ctx, "env-1", "tx-1", "sub-2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJobRepository_CreateBatchIsAtomic(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.JobRepository()

	first := stepJob("tx-1", "email", models.StepTypeEmail)
	first.ID, _ = persistence.NewID()
	duplicate := stepJob("tx-1", "sms", models.StepTypeSMS)
	duplicate.ID = first.ID

	err := repo.CreateBatch(ctx, []*models.Job{first, duplicate})
	require.Error(t, err)

	jobs, err := repo.FindByTransaction(ctx, "env-1", "tx-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobRepository_FindOrCreateDigest(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.JobRepository()

	open, created, err := repo.FindOrCreateDigest(ctx, digestCandidate("team-a", map[string]any{"n": 1}))
	require.NoError(t, err)
	assert.True(t, created)

	merged, created, err := repo.FindOrCreateDigest(ctx, digestCandidate("team-a", map[string]any{"n": 2}))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, open.ID, merged.ID)
	assert.Len(t, merged.Digest.Events, 2)

	separate, created, err := repo.FindOrCreateDigest(ctx, digestCandidate("team-b", map[string]any{"n": 3}))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, open.ID, separate.ID)

	_, err = repo.UpdateStatus(ctx, open.ID, []models.JobStatus{models.JobStatusDelayed}, persistence.JobUpdate{Status: models.JobStatusQueued})
	require.NoError(t, err)

	reopened, created, err := repo.FindOrCreateDigest(ctx, digestCandidate("team-a", map[string]any{"n": 4}))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, open.ID, reopened.ID)
}

func TestJobRepository_FindOrCreateDigestConcurrent(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.JobRepository()

	var (
		wg  sync.WaitGroup
		ids sync.Map
	)

	for i := range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			job, _, err := repo.FindOrCreateDigest(ctx, digestCandidate("team-a", map[string]any{"n": i}))
			assert.NoError(t, err)

			if job != nil {
				ids.Store(job.ID, struct{}{})
			}
		}()
	}

	wg.Wait()

	count := 0
	ids.Range(func(_, _ any) bool {
		count++

		return true
	})
	assert.Equal(t, 1, count)
}

func TestJobRepository_ActivateDigest(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.JobRepository()

	pending := digestCandidate("team-a", map[string]any{"n": 1})
	pending.Status = models.JobStatusPending
	require.NoError(t, repo.CreateBatch(ctx, []*models.Job{pending}))

	scheduledAt := time.Now().Add(5 * time.Minute).UTC()

	activated, ok, err := repo.ActivateDigest(ctx, pending, scheduledAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusDelayed, activated.Status)
	require.NotNil(t, activated.ScheduledAt)

	late := digestCandidate("team-a", map[string]any{"n": 2})
	late.Status = models.JobStatusPending
	require.NoError(t, repo.CreateBatch(ctx, []*models.Job{late}))

	open, ok, err := repo.ActivateDigest(ctx, late, scheduledAt)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, pending.ID, open.ID)
	assert.Len(t, open.Digest.Events, 2)

	_, _, err = repo.ActivateDigest(ctx, activated, scheduledAt)
	assert.True(t, persistence.IsJobStatusConflict(err))
}

func TestSubscriberRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.SubscriberRepository()

	subscriber := models.NewSubscriberFromPayload("env-1", "org-1", models.SubscriberPayload{
		SubscriberID: "sub-1",
		FirstName:    "Ana",
		Data:         map[string]any{"plan": "pro"},
	})
	require.NoError(t, repo.Create(ctx, subscriber))

	err := repo.Create(ctx, models.NewSubscriberFromPayload("env-1", "org-1", models.SubscriberPayload{SubscriberID: "sub-1"}))
	assert.True(t, persistence.IsSubscriberAlreadyExists(err))

	found, err := repo.FindBySubscriberID(ctx, "env-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", found.Data["plan"])

	found.Email = "ana@example.com"
	require.NoError(t, repo.Update(ctx, found))

	list, err := repo.ListByEnvironment(ctx, "env-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ana@example.com", list[0].Email)

	_, err = repo.FindBySubscriberID(ctx, "env-2", "sub-1")
	assert.True(t, persistence.IsSubscriberNotFound(err))
}

func TestExecutionDetailRepository_CreateIsIdempotent(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionDetailRepository()

	detail := &models.ExecutionDetail{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		NotificationID: "n-1",
		TransactionID:  "tx-1",
		JobID:          "job-1",
		Detail:         models.DetailStepCreated,
		Source:         models.DetailSourceInternal,
		Status:         models.DetailStatusPending,
	}
	require.NoError(t, repo.Create(ctx, detail))
	require.NoError(t, repo.Create(ctx, detail))

	details, err := repo.FindByTransaction(ctx, "env-1", "tx-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, models.DetailStepCreated, details[0].Detail)

	byJob, err := repo.FindByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, byJob, 1)
}

func TestOrganizationTenantAndIntegrationRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	organization := &models.Organization{Name: "Acme", APIServiceLevel: models.ServiceLevelFree}
	require.NoError(t, p.OrganizationRepository().Save(ctx, organization))

	found, err := p.OrganizationRepository().GetByID(ctx, organization.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceLevelFree, found.APIServiceLevel)

	require.NoError(t, p.TenantRepository().Save(ctx, &models.Tenant{EnvironmentID: "env-1", Identifier: "acme", Name: "Acme"}))

	tenant, err := p.TenantRepository().GetByIdentifier(ctx, "env-1", "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.Name)

	_, err = p.TenantRepository().GetByIdentifier(ctx, "env-1", "globex")
	assert.ErrorIs(t, err, persistence.ErrTenantNotFound)

	integrations := p.IntegrationRepository()
	require.NoError(t, integrations.Save(ctx, &models.Integration{EnvironmentID: "env-1", ProviderID: "sendgrid", Channel: models.StepTypeEmail, Active: true}))
	require.NoError(t, integrations.Save(ctx, &models.Integration{EnvironmentID: "env-1", ProviderID: "ses", Channel: models.StepTypeEmail, Active: true, Primary: true}))

	integration, err := integrations.FindActive(ctx, "env-1", models.StepTypeEmail)
	require.NoError(t, err)
	assert.Equal(t, "ses", integration.ProviderID)

	_, err = integrations.FindActive(ctx, "env-1", models.StepTypeSMS)
	assert.ErrorIs(t, err, persistence.ErrIntegrationNotFound)
}

func TestMessageRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.MessageRepository()

	message := &models.Message{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		JobID:          "job-1",
		NotificationID: "n-1",
		TransactionID:  "tx-1",
		SubscriberID:   "sub-1",
		Channel:        models.StepTypeInApp,
		Content:        map[string]any{"body": "Hello"},
		Status:         "sent",
	}
	require.NoError(t, repo.Create(ctx, message))

	found, err := repo.FindByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", found.Content["body"])

	messages, err := repo.FindBySubscriber(ctx, "env-1", "sub-1", models.StepTypeInApp)
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	messages, err = repo.FindBySubscriber(ctx, "env-1", "sub-1", models.StepTypeEmail)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
