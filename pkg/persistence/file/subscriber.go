package file

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

type SubscriberRepository struct {
	store *store[models.Subscriber]
	mu    *sync.RWMutex
}

func NewSubscriberRepository(root string, mu *sync.RWMutex) *SubscriberRepository {
	return &SubscriberRepository{store: newStore[models.Subscriber](root, "subscribers"), mu: mu}
}

func (sr *SubscriberRepository) FindBySubscriberID(_ context.Context, environmentID, subscriberID string) (*models.Subscriber, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	subscriber, err := sr.find(environmentID, subscriberID)
	if err != nil {
		return nil, persistence.NewSubscriberError("FindBySubscriberID", environmentID, subscriberID, err)
	}

	if subscriber == nil {
		return nil, persistence.NewSubscriberError("FindBySubscriberID", environmentID, subscriberID, persistence.ErrSubscriberNotFound)
	}

	return subscriber, nil
}

// Create enforces the (environment id, subscriber id) unique key under the repository lock.
func (sr *SubscriberRepository) Create(_ context.Context, subscriber *models.Subscriber) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	existing, err := sr.find(subscriber.EnvironmentID, subscriber.SubscriberID)
	if err != nil {
		return persistence.NewSubscriberError("Create", subscriber.EnvironmentID, subscriber.SubscriberID, err)
	}

	if existing != nil {
		return persistence.NewSubscriberError("Create", subscriber.EnvironmentID, subscriber.SubscriberID, persistence.ErrSubscriberAlreadyExists)
	}

	if subscriber.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		subscriber.ID = id
	}

	now := time.Now().UTC()
	subscriber.CreatedAt = now
	subscriber.UpdatedAt = now

	return sr.store.save(subscriber.ID, subscriber)
}

func (sr *SubscriberRepository) Update(_ context.Context, subscriber *models.Subscriber) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	existing, err := sr.store.load(subscriber.ID)
	if err != nil {
		return persistence.NewSubscriberError("Update", subscriber.EnvironmentID, subscriber.SubscriberID, err)
	}

	if existing == nil || existing.DeletedAt != nil {
		return persistence.NewSubscriberError("Update", subscriber.EnvironmentID, subscriber.SubscriberID, persistence.ErrSubscriberNotFound)
	}

	subscriber.CreatedAt = existing.CreatedAt
	subscriber.UpdatedAt = time.Now().UTC()

	return sr.store.save(subscriber.ID, subscriber)
}

func (sr *SubscriberRepository) ListByEnvironment(_ context.Context, environmentID string, offset, limit int) ([]*models.Subscriber, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	subscribers, err := sr.store.filter(func(s *models.Subscriber) bool {
		return s.DeletedAt == nil && s.EnvironmentID == environmentID
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(subscribers, func(i, j int) bool { return subscribers[i].ID < subscribers[j].ID })

	if offset >= len(subscribers) {
		return []*models.Subscriber{}, nil
	}

	end := len(subscribers)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return subscribers[offset:end], nil
}

func (sr *SubscriberRepository) find(environmentID, subscriberID string) (*models.Subscriber, error) {
	return sr.store.first(func(s *models.Subscriber) bool {
		return s.DeletedAt == nil && s.EnvironmentID == environmentID && s.SubscriberID == subscriberID
	})
}
