package file

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

type NotificationRepository struct {
	store *store[models.Notification]
	mu    *sync.RWMutex
}

func NewNotificationRepository(root string, mu *sync.RWMutex) *NotificationRepository {
	return &NotificationRepository{store: newStore[models.Notification](root, "notifications"), mu: mu}
}

func (nr *NotificationRepository) FindOrCreate(_ context.Context, notification *models.Notification) (*models.Notification, bool, error) {
	nr.mu.Lock()
	defer nr.mu.Unlock()

	existing, err := nr.findByTransaction(notification.EnvironmentID, notification.TransactionID)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		return existing, false, nil
	}

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

	err = nr.store.save(notification.ID, notification)
	if err != nil {
		return nil, false, err
	}

	return notification, true, nil
}

func (nr *NotificationRepository) GetByTransactionID(_ context.Context, environmentID, transactionID string) (*models.Notification, error) {
	nr.mu.RLock()
	defer nr.mu.RUnlock()

	notification, err := nr.findByTransaction(environmentID, transactionID)
	if err != nil {
		return nil, err
	}

	if notification == nil {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, persistence.ErrNotificationNotFound)
	}

	return notification, nil
}

func (nr *NotificationRepository) findByTransaction(environmentID, transactionID string) (*models.Notification, error) {
	return nr.store.first(func(n *models.Notification) bool {
		return n.EnvironmentID == environmentID && n.TransactionID == transactionID
	})
}
