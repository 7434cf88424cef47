// Package postgresql provides PostgreSQL persistence for workflows, jobs, subscribers and the activity log.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/persistence/sqlbase"
)

const uniqueViolation = "23505"

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflowRepo        *WorkflowRepository
	notificationRepo    *NotificationRepository
	jobRepo             *JobRepository
	subscriberRepo      *SubscriberRepository
	executionDetailRepo *ExecutionDetailRepository
	organizationRepo    *OrganizationRepository
	integrationRepo     *IntegrationRepository
	tenantRepo          *TenantRepository
	messageRepo         *MessageRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:                  database,
		logger:              logger,
		workflowRepo:        NewWorkflowRepository(database, logger),
		notificationRepo:    NewNotificationRepository(database, logger),
		jobRepo:             NewJobRepository(database, logger),
		subscriberRepo:      NewSubscriberRepository(database, logger),
		executionDetailRepo: NewExecutionDetailRepository(database, logger),
		organizationRepo:    NewOrganizationRepository(database, logger),
		integrationRepo:     NewIntegrationRepository(database, logger),
		tenantRepo:          NewTenantRepository(database, logger),
		messageRepo:         NewMessageRepository(database, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) NotificationRepository() persistence.NotificationRepository {
	return p.notificationRepo
}

func (p *Persistence) JobRepository() persistence.JobRepository {
	return p.jobRepo
}

func (p *Persistence) SubscriberRepository() persistence.SubscriberRepository {
	return p.subscriberRepo
}

func (p *Persistence) ExecutionDetailRepository() persistence.ExecutionDetailRepository {
	return p.executionDetailRepo
}

func (p *Persistence) OrganizationRepository() persistence.OrganizationRepository {
	return p.organizationRepo
}

func (p *Persistence) IntegrationRepository() persistence.IntegrationRepository {
	return p.integrationRepo
}

func (p *Persistence) TenantRepository() persistence.TenantRepository {
	return p.tenantRepo
}

func (p *Persistence) MessageRepository() persistence.MessageRepository {
	return p.messageRepo
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func unmarshalJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, target)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
