// Package executionlog records the execution detail trail of notifications and jobs.
package executionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/queue"
)

// Writer appends execution details.
type Writer interface {
	Create(ctx context.Context, detail *models.ExecutionDetail) error
}

// FromJob fills the identifying fields of a detail from the job it describes.
func FromJob(job *models.Job, reason models.DetailReason, status models.DetailStatus) *models.ExecutionDetail {
	return &models.ExecutionDetail{
		EnvironmentID:  job.EnvironmentID,
		OrganizationID: job.OrganizationID,
		SubscriberID:   job.SubscriberID,
		JobID:          job.ID,
		NotificationID: job.NotificationID,
		TransactionID:  job.TransactionID,
		Channel:        job.Type,
		ProviderID:     job.ProviderID,
		Detail:         reason,
		Source:         models.DetailSourceInternal,
		Status:         status,
		IsRetry:        job.Attempts > 0,
	}
}

// WithRaw attaches v, encoded as JSON, to the detail.
func WithRaw(detail *models.ExecutionDetail, v any) *models.ExecutionDetail {
	switch raw := v.(type) {
	case nil:
	case string:
		detail.Raw = raw
	case error:
		detail.Raw = raw.Error()
	default:
		data, err := json.Marshal(raw)
		if err == nil {
			detail.Raw = string(data)
		}
	}

	return detail
}

func prepare(validate *validator.Validate, detail *models.ExecutionDetail) error {
	if detail.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		detail.ID = id
	}

	if detail.CreatedAt.IsZero() {
		detail.CreatedAt = time.Now().UTC()
	}

	if detail.Source == "" {
		detail.Source = models.DetailSourceInternal
	}

	err := validate.Struct(detail)
	if err != nil {
		return fmt.Errorf("invalid execution detail %s: %w", detail.Detail, err)
	}

	return nil
}

// Store writes details straight to the repository and serves the activity timeline.
type Store struct {
	repo     persistence.ExecutionDetailRepository
	validate *validator.Validate
	metrics  metrics.Sink
	logger   *slog.Logger
}

func NewStore(repo persistence.ExecutionDetailRepository, sink metrics.Sink, logger *slog.Logger) *Store {
	return &Store{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  sink,
		logger:   logger.With("module", "execution_log"),
	}
}

func (s *Store) Create(ctx context.Context, detail *models.ExecutionDetail) error {
	err := prepare(s.validate, detail)
	if err != nil {
		return err
	}

	err = s.repo.Create(ctx, detail)
	if err != nil {
		return fmt.Errorf("failed to store execution detail: %w", err)
	}

	s.metrics.ExecutionDetailRecorded(string(detail.Detail), string(detail.Status))

	s.logger.DebugContext(ctx, "execution detail recorded",
		"detail", detail.Detail,
		"status", detail.Status,
		"transaction_id", detail.TransactionID,
		"job_id", detail.JobID,
	)

	return nil
}

func (s *Store) ListByTransaction(ctx context.Context, environmentID, transactionID string) ([]*models.ExecutionDetail, error) {
	return s.repo.FindByTransaction(ctx, environmentID, transactionID)
}

func (s *Store) ListByNotification(ctx context.Context, notificationID string) ([]*models.ExecutionDetail, error) {
	return s.repo.FindByNotification(ctx, notificationID)
}

func (s *Store) ListByJob(ctx context.Context, jobID string) ([]*models.ExecutionDetail, error) {
	return s.repo.FindByJob(ctx, jobID)
}

// QueuedWriter hands details to the EXECUTION_LOG topic; the execution log worker stores them.
// The detail id doubles as the message id, so a redelivered message is stored once.
type QueuedWriter struct {
	queue    queue.Queue
	validate *validator.Validate
}

func NewQueuedWriter(q queue.Queue) *QueuedWriter {
	return &QueuedWriter{queue: q, validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (w *QueuedWriter) Create(ctx context.Context, detail *models.ExecutionDetail) error {
	err := prepare(w.validate, detail)
	if err != nil {
		return err
	}

	return queue.EnqueueJSON(ctx, w.queue, queue.TopicExecutionLog, detail.TransactionID, detail, queue.WithMessageID(detail.ID))
}
