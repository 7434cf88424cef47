package services

import (
	"io"
	"log/slog"
	"testing"

	"github.com/novu-co/novu-sub003/pkg/executionlog"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivity_Transaction(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())
	details := executionlog.NewStore(persistence.ExecutionDetailRepository(), metrics.NewNoopSink(), logger)
	service := NewActivity(persistence, details)

	notification, _, err := persistence.NotificationRepository().FindOrCreate(t.Context(), &models.Notification{
		EnvironmentID:      "env-1",
		OrganizationID:     "org-1",
		TransactionID:      "tx-1",
		WorkflowIdentifier: "welcome",
	})
	require.NoError(t, err)

	job := &models.Job{
		ID:             "job-1",
		Type:           models.StepTypeEmail,
		Status:         models.JobStatusCompleted,
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		NotificationID: notification.ID,
		TransactionID:  "tx-1",
		SubscriberID:   "sub-1",
	}
	require.NoError(t, persistence.JobRepository().CreateBatch(t.Context(), []*models.Job{job}))
	require.NoError(t, details.Create(t.Context(), executionlog.FromJob(job, models.DetailMessageSent, models.DetailStatusSuccess)))

	timeline, err := service.Transaction(t.Context(), "env-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, notification.ID, timeline.Notification.ID)
	require.Len(t, timeline.Jobs, 1)
	assert.Equal(t, "job-1", timeline.Jobs[0].ID)
	require.Len(t, timeline.Details, 1)
	assert.Equal(t, models.DetailMessageSent, timeline.Details[0].Detail)

	_, err = service.Transaction(t.Context(), "env-1", "tx-unknown")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}
