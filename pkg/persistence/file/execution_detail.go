package file

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

type ExecutionDetailRepository struct {
	store *store[models.ExecutionDetail]
	mu    *sync.RWMutex
}

func NewExecutionDetailRepository(root string, mu *sync.RWMutex) *ExecutionDetailRepository {
	return &ExecutionDetailRepository{store: newStore[models.ExecutionDetail](root, "execution_details"), mu: mu}
}

// Create writes a detail once; a second write with the same id leaves the first in place.
func (er *ExecutionDetailRepository) Create(_ context.Context, detail *models.ExecutionDetail) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	if detail.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		detail.ID = id
	}

	existing, err := er.store.load(detail.ID)
	if err != nil {
		return err
	}

	if existing != nil {
		return nil
	}

	if detail.CreatedAt.IsZero() {
		detail.CreatedAt = time.Now().UTC()
	}

	return er.store.save(detail.ID, detail)
}

func (er *ExecutionDetailRepository) FindByTransaction(_ context.Context, environmentID, transactionID string) ([]*models.ExecutionDetail, error) {
	return er.find(func(d *models.ExecutionDetail) bool {
		return d.EnvironmentID == environmentID && d.TransactionID == transactionID
	})
}

func (er *ExecutionDetailRepository) FindByNotification(_ context.Context, notificationID string) ([]*models.ExecutionDetail, error) {
	return er.find(func(d *models.ExecutionDetail) bool { return d.NotificationID == notificationID })
}

func (er *ExecutionDetailRepository) FindByJob(_ context.Context, jobID string) ([]*models.ExecutionDetail, error) {
	return er.find(func(d *models.ExecutionDetail) bool { return d.JobID == jobID })
}

func (er *ExecutionDetailRepository) find(match func(*models.ExecutionDetail) bool) ([]*models.ExecutionDetail, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	details, err := er.store.filter(match)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(details, func(i, j int) bool {
		if details[i].CreatedAt.Equal(details[j].CreatedAt) {
			return details[i].ID < details[j].ID
		}

		return details[i].CreatedAt.Before(details[j].CreatedAt)
	})

	return details, nil
}
