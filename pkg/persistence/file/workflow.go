package file

import (
	"context"
	"sync"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *store[models.Workflow]
	mu    *sync.RWMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string, mu *sync.RWMutex) *WorkflowRepository {
	return &WorkflowRepository{store: newStore[models.Workflow](root, "workflows"), mu: mu}
}

// Save creates or replaces a workflow. Identifiers are unique per environment.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	now := time.Now().UTC()

	if workflow.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		workflow.ID = id
	}

	clash, err := wr.store.first(func(w *models.Workflow) bool {
		return w.ID != workflow.ID && w.DeletedAt == nil &&
			w.EnvironmentID == workflow.EnvironmentID && w.Identifier == workflow.Identifier
	})
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.Identifier, err)
	}

	if clash != nil {
		return persistence.NewWorkflowError("Save", workflow.Identifier, persistence.ErrWorkflowAlreadyExists)
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return wr.store.save(workflow.ID, workflow)
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	workflow, err := wr.store.load(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if workflow == nil || workflow.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (wr *WorkflowRepository) GetByIdentifier(_ context.Context, environmentID, identifier string) (*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	workflow, err := wr.store.first(func(w *models.Workflow) bool {
		return w.DeletedAt == nil && w.EnvironmentID == environmentID && w.Identifier == identifier
	})
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByIdentifier", identifier, err)
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("GetByIdentifier", identifier, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (wr *WorkflowRepository) CountByOrganization(_ context.Context, organizationID string) (int, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	workflows, err := wr.store.filter(func(w *models.Workflow) bool {
		return w.DeletedAt == nil && w.OrganizationID == organizationID
	})
	if err != nil {
		return 0, err
	}

	return len(workflows), nil
}

// Delete soft deletes a workflow.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.store.load(id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if workflow == nil || workflow.DeletedAt != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	return wr.store.save(id, workflow)
}
