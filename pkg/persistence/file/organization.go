package file

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

type OrganizationRepository struct {
	store *store[models.Organization]
	mu    *sync.RWMutex
}

func NewOrganizationRepository(root string, mu *sync.RWMutex) *OrganizationRepository {
	return &OrganizationRepository{store: newStore[models.Organization](root, "organizations"), mu: mu}
}

func (r *OrganizationRepository) Save(_ context.Context, organization *models.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if organization.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		organization.ID = id
	}

	now := time.Now().UTC()
	if organization.CreatedAt.IsZero() {
		organization.CreatedAt = now
	}

	organization.UpdatedAt = now

	return r.store.save(organization.ID, organization)
}

func (r *OrganizationRepository) GetByID(_ context.Context, id string) (*models.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	organization, err := r.store.load(id)
	if err != nil {
		return nil, err
	}

	if organization == nil {
		return nil, fmt.Errorf("organization %s: %w", id, persistence.ErrOrganizationNotFound)
	}

	return organization, nil
}

type IntegrationRepository struct {
	store *store[models.Integration]
	mu    *sync.RWMutex
}

func NewIntegrationRepository(root string, mu *sync.RWMutex) *IntegrationRepository {
	return &IntegrationRepository{store: newStore[models.Integration](root, "integrations"), mu: mu}
}

func (ir *IntegrationRepository) Save(_ context.Context, integration *models.Integration) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	if integration.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		integration.ID = id
	}

	now := time.Now().UTC()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}

	integration.UpdatedAt = now

	return ir.store.save(integration.ID, integration)
}

func (ir *IntegrationRepository) FindActive(_ context.Context, environmentID string, channel models.StepType) (*models.Integration, error) {
	ir.mu.RLock()
	defer ir.mu.RUnlock()

	integrations, err := ir.store.filter(func(i *models.Integration) bool {
		return i.Active && i.EnvironmentID == environmentID && i.Channel == channel
	})
	if err != nil {
		return nil, err
	}

	if len(integrations) == 0 {
		return nil, fmt.Errorf("%s integration in environment %s: %w", channel, environmentID, persistence.ErrIntegrationNotFound)
	}

	for _, integration := range integrations {
		if integration.Primary {
			return integration, nil
		}
	}

	return integrations[0], nil
}

type TenantRepository struct {
	store *store[models.Tenant]
	mu    *sync.RWMutex
}

func NewTenantRepository(root string, mu *sync.RWMutex) *TenantRepository {
	return &TenantRepository{store: newStore[models.Tenant](root, "tenants"), mu: mu}
}

func (tr *TenantRepository) Save(_ context.Context, tenant *models.Tenant) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tenant.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return err
		}

		tenant.ID = id
	}

	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}

	tenant.UpdatedAt = now

	return tr.store.save(tenant.ID, tenant)
}

func (tr *TenantRepository) GetByIdentifier(_ context.Context, environmentID, identifier string) (*models.Tenant, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	tenant, err := tr.store.first(func(t *models.Tenant) bool {
		return t.EnvironmentID == environmentID && t.Identifier == identifier
	})
	if err != nil {
		return nil, err
	}

	if tenant == nil {
		return nil, fmt.Errorf("tenant %s: %w", identifier, persistence.ErrTenantNotFound)
	}

	return tenant, nil
}
