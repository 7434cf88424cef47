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

type OrganizationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewOrganizationRepository(db *sql.DB, logger *slog.Logger) *OrganizationRepository {
	return &OrganizationRepository{db: db, logger: logger}
}

func (r *OrganizationRepository) Save(ctx context.Context, organization *models.Organization) error {
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

	query := `
		INSERT INTO organizations (id, name, api_service_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			api_service_level = EXCLUDED.api_service_level,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		organization.ID,
		organization.Name,
		organization.APIServiceLevel,
		organization.CreatedAt,
		organization.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save organization: %w", err)
	}

	return nil
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	var organization models.Organization

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, api_service_level, created_at, updated_at FROM organizations WHERE id = $1`, id,
	).Scan(
		&organization.ID,
		&organization.Name,
		&organization.APIServiceLevel,
		&organization.CreatedAt,
		&organization.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %s: %w", id, persistence.ErrOrganizationNotFound)
		}

		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}

	return &organization, nil
}

type IntegrationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewIntegrationRepository(db *sql.DB, logger *slog.Logger) *IntegrationRepository {
	return &IntegrationRepository{db: db, logger: logger}
}

func (r *IntegrationRepository) Save(ctx context.Context, integration *models.Integration) error {
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

	credentialsJSON, err := json.Marshal(integration.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	query := `
		INSERT INTO integrations (id, environment_id, organization_id, provider_id, channel, active,
			is_primary, credentials, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			channel = EXCLUDED.channel,
			active = EXCLUDED.active,
			is_primary = EXCLUDED.is_primary,
			credentials = EXCLUDED.credentials,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		integration.ID,
		integration.EnvironmentID,
		integration.OrganizationID,
		integration.ProviderID,
		integration.Channel,
		integration.Active,
		integration.Primary,
		credentialsJSON,
		integration.CreatedAt,
		integration.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save integration: %w", err)
	}

	return nil
}

func (r *IntegrationRepository) FindActive(ctx context.Context, environmentID string, channel models.StepType) (*models.Integration, error) {
	query := `
		SELECT id, environment_id, organization_id, provider_id, channel, active, is_primary, credentials,
			created_at, updated_at
		FROM integrations
		WHERE environment_id = $1 AND channel = $2 AND active
		ORDER BY is_primary DESC, created_at
		LIMIT 1
	`

	var (
		integration     models.Integration
		credentialsJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, environmentID, channel).Scan(
		&integration.ID,
		&integration.EnvironmentID,
		&integration.OrganizationID,
		&integration.ProviderID,
		&integration.Channel,
		&integration.Active,
		&integration.Primary,
		&credentialsJSON,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s integration in environment %s: %w", channel, environmentID, persistence.ErrIntegrationNotFound)
		}

		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}

	err = unmarshalJSON(credentialsJSON, &integration.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}

	return &integration, nil
}

type TenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTenantRepository(db *sql.DB, logger *slog.Logger) *TenantRepository {
	return &TenantRepository{db: db, logger: logger}
}

// Save upserts on (environment_id, identifier).
func (r *TenantRepository) Save(ctx context.Context, tenant *models.Tenant) error {
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

	dataJSON, err := json.Marshal(tenant.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant data: %w", err)
	}

	query := `
		INSERT INTO tenants (id, environment_id, identifier, name, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (environment_id, identifier) DO UPDATE SET
			name = EXCLUDED.name,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = r.db.QueryRowContext(ctx, query,
		tenant.ID,
		tenant.EnvironmentID,
		tenant.Identifier,
		tenant.Name,
		dataJSON,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Scan(&tenant.ID, &tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}

	return nil
}

func (r *TenantRepository) GetByIdentifier(ctx context.Context, environmentID, identifier string) (*models.Tenant, error) {
	var (
		tenant   models.Tenant
		dataJSON []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, environment_id, identifier, name, data, created_at, updated_at
		FROM tenants WHERE environment_id = $1 AND identifier = $2`,
		environmentID, identifier,
	).Scan(
		&tenant.ID,
		&tenant.EnvironmentID,
		&tenant.Identifier,
		&tenant.Name,
		&dataJSON,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", identifier, persistence.ErrTenantNotFound)
		}

		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}

	err = unmarshalJSON(dataJSON, &tenant.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal tenant data: %w", err)
	}

	return &tenant, nil
}
