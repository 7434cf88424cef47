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

const subscriberColumns = `
	id
  , environment_id
  , organization_id
  , subscriber_id
  , first_name
  , last_name
  , email
  , phone
  , avatar
  , locale
  , timezone
  , data
  , channels
  , created_at
  , updated_at
  , deleted_at`

type SubscriberRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSubscriberRepository(db *sql.DB, logger *slog.Logger) *SubscriberRepository {
	return &SubscriberRepository{db: db, logger: logger}
}

func (r *SubscriberRepository) FindBySubscriberID(ctx context.Context, environmentID, subscriberID string) (*models.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers
		WHERE environment_id = $1 AND subscriber_id = $2 AND deleted_at IS NULL`

	subscriber, err := scanSubscriber(r.db.QueryRowContext(ctx, query, environmentID, subscriberID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSubscriberError("FindBySubscriberID", environmentID, subscriberID, persistence.ErrSubscriberNotFound)
		}

		return nil, fmt.Errorf("failed to scan subscriber: %w", err)
	}

	return subscriber, nil
}

// Create leans on the partial unique index; a violation means another writer got there first.
func (r *SubscriberRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	if subscriber.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		subscriber.ID = id
	}

	now := time.Now().UTC()
	if subscriber.CreatedAt.IsZero() {
		subscriber.CreatedAt = now
	}

	subscriber.UpdatedAt = now

	dataJSON, channelsJSON, err := marshalSubscriberFields(subscriber)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscribers (id, environment_id, organization_id, subscriber_id, first_name, last_name,
			email, phone, avatar, locale, timezone, data, channels, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		subscriber.ID,
		subscriber.EnvironmentID,
		subscriber.OrganizationID,
		subscriber.SubscriberID,
		subscriber.FirstName,
		subscriber.LastName,
		subscriber.Email,
		subscriber.Phone,
		subscriber.Avatar,
		subscriber.Locale,
		subscriber.Timezone,
		dataJSON,
		channelsJSON,
		subscriber.CreatedAt,
		subscriber.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewSubscriberError("Create", subscriber.EnvironmentID, subscriber.SubscriberID, persistence.ErrSubscriberAlreadyExists)
		}

		return fmt.Errorf("failed to insert subscriber: %w", err)
	}

	return nil
}

func (r *SubscriberRepository) Update(ctx context.Context, subscriber *models.Subscriber) error {
	subscriber.UpdatedAt = time.Now().UTC()

	dataJSON, channelsJSON, err := marshalSubscriberFields(subscriber)
	if err != nil {
		return err
	}

	query := `
		UPDATE subscribers SET
			first_name = $3, last_name = $4, email = $5, phone = $6, avatar = $7, locale = $8,
			timezone = $9, data = $10, channels = $11, updated_at = $12
		WHERE environment_id = $1 AND subscriber_id = $2 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		subscriber.EnvironmentID,
		subscriber.SubscriberID,
		subscriber.FirstName,
		subscriber.LastName,
		subscriber.Email,
		subscriber.Phone,
		subscriber.Avatar,
		subscriber.Locale,
		subscriber.Timezone,
		dataJSON,
		channelsJSON,
		subscriber.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscriber: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewSubscriberError("Update", subscriber.EnvironmentID, subscriber.SubscriberID, persistence.ErrSubscriberNotFound)
	}

	return nil
}

func (r *SubscriberRepository) ListByEnvironment(ctx context.Context, environmentID string, offset, limit int) ([]*models.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers
		WHERE environment_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id
		OFFSET $2 LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, environmentID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	subscribers := make([]*models.Subscriber, 0)

	for rows.Next() {
		subscriber, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}

		subscribers = append(subscribers, subscriber)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating subscribers: %w", err)
	}

	return subscribers, nil
}

func marshalSubscriberFields(subscriber *models.Subscriber) ([]byte, []byte, error) {
	dataJSON, err := json.Marshal(subscriber.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal subscriber data: %w", err)
	}

	channelsJSON, err := json.Marshal(subscriber.Channels)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal subscriber channels: %w", err)
	}

	return dataJSON, channelsJSON, nil
}

func scanSubscriber(row scanner) (*models.Subscriber, error) {
	var (
		subscriber   models.Subscriber
		dataJSON     []byte
		channelsJSON []byte
		deletedAt    sql.NullTime
	)

	err := row.Scan(
		&subscriber.ID,
		&subscriber.EnvironmentID,
		&subscriber.OrganizationID,
		&subscriber.SubscriberID,
		&subscriber.FirstName,
		&subscriber.LastName,
		&subscriber.Email,
		&subscriber.Phone,
		&subscriber.Avatar,
		&subscriber.Locale,
		&subscriber.Timezone,
		&dataJSON,
		&channelsJSON,
		&subscriber.CreatedAt,
		&subscriber.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(dataJSON, &subscriber.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscriber data: %w", err)
	}

	err = unmarshalJSON(channelsJSON, &subscriber.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscriber channels: %w", err)
	}

	if deletedAt.Valid {
		subscriber.DeletedAt = &deletedAt.Time
	}

	return &subscriber, nil
}
