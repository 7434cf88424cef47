// Package file provides file-based persistence for local development and tests.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/novu-co/novu-sub003/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// A single lock serializes writers so compare-and-set operations hold within one process.
type Persistence struct {
	root string
	mu   *sync.RWMutex

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

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	mu := &sync.RWMutex{}

	return &Persistence{
		root:                cleanRoot,
		mu:                  mu,
		workflowRepo:        NewWorkflowRepository(cleanRoot, mu),
		notificationRepo:    NewNotificationRepository(cleanRoot, mu),
		jobRepo:             NewJobRepository(cleanRoot, mu),
		subscriberRepo:      NewSubscriberRepository(cleanRoot, mu),
		executionDetailRepo: NewExecutionDetailRepository(cleanRoot, mu),
		organizationRepo:    NewOrganizationRepository(cleanRoot, mu),
		integrationRepo:     NewIntegrationRepository(cleanRoot, mu),
		tenantRepo:          NewTenantRepository(cleanRoot, mu),
		messageRepo:         NewMessageRepository(cleanRoot, mu),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) NotificationRepository() persistence.NotificationRepository {
	return fp.notificationRepo
}

func (fp *Persistence) JobRepository() persistence.JobRepository {
	return fp.jobRepo
}

func (fp *Persistence) SubscriberRepository() persistence.SubscriberRepository {
	return fp.subscriberRepo
}

func (fp *Persistence) ExecutionDetailRepository() persistence.ExecutionDetailRepository {
	return fp.executionDetailRepo
}

func (fp *Persistence) OrganizationRepository() persistence.OrganizationRepository {
	return fp.organizationRepo
}

func (fp *Persistence) IntegrationRepository() persistence.IntegrationRepository {
	return fp.integrationRepo
}

func (fp *Persistence) TenantRepository() persistence.TenantRepository {
	return fp.tenantRepo
}

func (fp *Persistence) MessageRepository() persistence.MessageRepository {
	return fp.messageRepo
}
