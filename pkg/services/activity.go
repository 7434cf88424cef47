package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/novu-co/novu-sub003/pkg/executionlog"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

// Activity reads back what happened to a trigger.
type Activity struct {
	persistence persistence.Persistence
	details     *executionlog.Store
}

func NewActivity(persistence persistence.Persistence, details *executionlog.Store) *Activity {
	return &Activity{persistence: persistence, details: details}
}

// Timeline is the notification of a transaction with its jobs and execution details, oldest first.
type Timeline struct {
	Notification *models.Notification      `json:"notification"`
	Jobs         []*models.Job             `json:"jobs"`
	Details      []*models.ExecutionDetail `json:"details"`
}

// Transaction returns the timeline of one transaction.
func (a *Activity) Transaction(ctx context.Context, environmentID, transactionID string) (*Timeline, error) {
	notification, err := a.persistence.NotificationRepository().GetByTransactionID(ctx, environmentID, transactionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotificationNotFound) {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, ErrTransactionNotFound)
		}

		return nil, fmt.Errorf("failed to load notification: %w", err)
	}

	jobs, err := a.persistence.JobRepository().FindByTransaction(ctx, environmentID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	details, err := a.details.ListByTransaction(ctx, environmentID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution details: %w", err)
	}

	return &Timeline{
		Notification: notification,
		Jobs:         jobs,
		Details:      details,
	}, nil
}
