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

const messageColumns = `
	id
  , environment_id
  , organization_id
  , job_id
  , notification_id
  , transaction_id
  , subscriber_id
  , channel
  , provider_id
  , content
  , provider_message_id
  , status
  , seen
  , read
  , created_at`

type MessageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMessageRepository(db *sql.DB, logger *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, logger: logger}
}

// Create stores at most one message per job; a redelivered send keeps the first row.
func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		message.ID = id
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	contentJSON, err := json.Marshal(message.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	query := `
		INSERT INTO messages (id, environment_id, organization_id, job_id, notification_id, transaction_id,
			subscriber_id, channel, provider_id, content, provider_message_id, status, seen, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (job_id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		message.ID,
		message.EnvironmentID,
		message.OrganizationID,
		message.JobID,
		message.NotificationID,
		message.TransactionID,
		message.SubscriberID,
		message.Channel,
		message.ProviderID,
		contentJSON,
		nullString(message.ProviderMessageID),
		message.Status,
		message.Seen,
		message.Read,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

func (r *MessageRepository) FindByJob(ctx context.Context, jobID string) (*models.Message, error) {
	message, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE job_id = $1`, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message for job %s: %w", jobID, persistence.ErrMessageNotFound)
		}

		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	return message, nil
}

func (r *MessageRepository) FindBySubscriber(ctx context.Context, environmentID, subscriberID string, channel models.StepType) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE environment_id = $1 AND subscriber_id = $2 AND ($3 = '' OR channel = $3)
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, environmentID, subscriberID, string(channel))
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	messages := make([]*models.Message, 0)

	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		messages = append(messages, message)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		message           models.Message
		contentJSON       []byte
		providerMessageID sql.NullString
	)

	err := row.Scan(
		&message.ID,
		&message.EnvironmentID,
		&message.OrganizationID,
		&message.JobID,
		&message.NotificationID,
		&message.TransactionID,
		&message.SubscriberID,
		&message.Channel,
		&message.ProviderID,
		&contentJSON,
		&providerMessageID,
		&message.Status,
		&message.Seen,
		&message.Read,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(contentJSON, &message.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal message content: %w", err)
	}

	message.ProviderMessageID = providerMessageID.String

	return &message, nil
}
