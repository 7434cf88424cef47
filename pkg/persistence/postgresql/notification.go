package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

const notificationColumns = `
	id
  , environment_id
  , organization_id
  , transaction_id
  , workflow_id
  , workflow_identifier
  , payload
  , tenant
  , actor_id
  , created_at`

type NotificationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewNotificationRepository(db *sql.DB, logger *slog.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

// FindOrCreate relies on the (environment_id, transaction_id) unique key; the losing insert reads the winner.
func (r *NotificationRepository) FindOrCreate(ctx context.Context, notification *models.Notification) (*models.Notification, bool, error) {
	if notification.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return nil, false, err
		}

		notification.ID = id
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(notification.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	tenantJSON, err := json.Marshal(notification.Tenant)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal tenant: %w", err)
	}

	query := `
		INSERT INTO notifications (id, environment_id, organization_id, transaction_id, workflow_id,
			workflow_identifier, payload, tenant, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (environment_id, transaction_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		notification.ID,
		notification.EnvironmentID,
		notification.OrganizationID,
		notification.TransactionID,
		notification.WorkflowID,
		notification.WorkflowIdentifier,
		payloadJSON,
		tenantJSON,
		nullString(notification.ActorID),
		notification.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert notification: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted == 1 {
		return notification, true, nil
	}

	existing, err := r.GetByTransactionID(ctx, notification.EnvironmentID, notification.TransactionID)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (r *NotificationRepository) GetByTransactionID(ctx context.Context, environmentID, transactionID string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE environment_id = $1 AND transaction_id = $2`

	var (
		notification models.Notification
		payloadJSON  []byte
		tenantJSON   []byte
		actorID      sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, environmentID, transactionID).Scan(
		&notification.ID,
		&notification.EnvironmentID,
		&notification.OrganizationID,
		&notification.TransactionID,
		&notification.WorkflowID,
		&notification.WorkflowIdentifier,
		&payloadJSON,
		&tenantJSON,
		&actorID,
		&notification.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, persistence.ErrNotificationNotFound)
		}

		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}

	if err := unmarshalJSON(payloadJSON, &notification.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if err := unmarshalJSON(tenantJSON, &notification.Tenant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tenant: %w", err)
	}

	notification.ActorID = actorID.String

	return &notification, nil
}
