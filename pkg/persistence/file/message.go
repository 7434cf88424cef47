package file

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

type MessageRepository struct {
	store *store[models.Message]
	mu    *sync.RWMutex
}

func NewMessageRepository(root string, mu *sync.RWMutex) *MessageRepository {
	return &MessageRepository{store: newStore[models.Message](root, "messages"), mu: mu}
}

func (mr *MessageRepository) Create(_ context.Context, message *models.Message) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

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

	return mr.store.save(message.ID, message)
}

func (mr *MessageRepository) FindByJob(_ context.Context, jobID string) (*models.Message, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	message, err := mr.store.first(func(m *models.Message) bool { return m.JobID == jobID })
	if err != nil {
		return nil, err
	}

	if message == nil {
		return nil, fmt.Errorf("message for job %s: %w", jobID, persistence.ErrMessageNotFound)
	}

	return message, nil
}

func (mr *MessageRepository) FindBySubscriber(_ context.Context, environmentID, subscriberID string, channel models.StepType) ([]*models.Message, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	messages, err := mr.store.filter(func(m *models.Message) bool {
		return m.EnvironmentID == environmentID && m.SubscriberID == subscriberID && (channel == "" || m.Channel == channel)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.After(messages[j].CreatedAt) })

	return messages, nil
}
