package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

const executionDetailColumns = `
	id
  , environment_id
  , organization_id
  , subscriber_id
  , job_id
  , notification_id
  , transaction_id
  , channel
  , provider_id
  , detail
  , source
  , status
  , is_test
  , is_retry
  , raw
  , created_at`

type ExecutionDetailRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionDetailRepository(db *sql.DB, logger *slog.Logger) *ExecutionDetailRepository {
	return &ExecutionDetailRepository{db: db, logger: logger}
}

// Create ignores a detail whose id is already stored so redelivered log messages are harmless.
func (r *ExecutionDetailRepository) Create(ctx context.Context, detail *models.ExecutionDetail) error {
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

	query := `
		INSERT INTO execution_details (id, environment_id, organization_id, subscriber_id, job_id,
			notification_id, transaction_id, channel, provider_id, detail, source, status, is_test,
			is_retry, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		detail.ID,
		detail.EnvironmentID,
		detail.OrganizationID,
		detail.SubscriberID,
		nullString(detail.JobID),
		detail.NotificationID,
		detail.TransactionID,
		nullString(string(detail.Channel)),
		nullString(detail.ProviderID),
		detail.Detail,
		detail.Source,
		detail.Status,
		detail.IsTest,
		detail.IsRetry,
		nullString(detail.Raw),
		detail.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution detail: %w", err)
	}

	return nil
}

func (r *ExecutionDetailRepository) FindByTransaction(ctx context.Context, environmentID, transactionID string) ([]*models.ExecutionDetail, error) {
	return r.query(ctx, `SELECT `+executionDetailColumns+` FROM execution_details
		WHERE environment_id = $1 AND transaction_id = $2 ORDER BY created_at, id`, environmentID, transactionID)
}

func (r *ExecutionDetailRepository) FindByNotification(ctx context.Context, notificationID string) ([]*models.ExecutionDetail, error) {
	return r.query(ctx, `SELECT `+executionDetailColumns+` FROM execution_details
		WHERE notification_id = $1 ORDER BY created_at, id`, notificationID)
}

func (r *ExecutionDetailRepository) FindByJob(ctx context.Context, jobID string) ([]*models.ExecutionDetail, error) {
	return r.query(ctx, `SELECT `+executionDetailColumns+` FROM execution_details
		WHERE job_id = $1 ORDER BY created_at, id`, jobID)
}

func (r *ExecutionDetailRepository) query(ctx context.Context, query string, args ...any) ([]*models.ExecutionDetail, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution details: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	details := make([]*models.ExecutionDetail, 0)

	for rows.Next() {
		var (
			detail     models.ExecutionDetail
			jobID      sql.NullString
			channel    sql.NullString
			providerID sql.NullString
			raw        sql.NullString
		)

		err := rows.Scan(
			&detail.ID,
			&detail.EnvironmentID,
			&detail.OrganizationID,
			&detail.SubscriberID,
			&jobID,
			&detail.NotificationID,
			&detail.TransactionID,
			&channel,
			&providerID,
			&detail.Detail,
			&detail.Source,
			&detail.Status,
			&detail.IsTest,
			&detail.IsRetry,
			&raw,
			&detail.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution detail: %w", err)
		}

		detail.JobID = jobID.String
		detail.Channel = models.StepType(channel.String)
		detail.ProviderID = providerID.String
		detail.Raw = raw.String

		details = append(details, &detail)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution details: %w", err)
	}

	return details, nil
}
