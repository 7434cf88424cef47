// Package persistence provides the storage abstraction for workflows, jobs, subscribers and the activity log.
package persistence

import (
	"context"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	NotificationRepository() NotificationRepository
	JobRepository() JobRepository
	SubscriberRepository() SubscriberRepository
	ExecutionDetailRepository() ExecutionDetailRepository
	OrganizationRepository() OrganizationRepository
	IntegrationRepository() IntegrationRepository
	TenantRepository() TenantRepository
	MessageRepository() MessageRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions. Deleted workflows are invisible to every lookup.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetByIdentifier(ctx context.Context, environmentID, identifier string) (*models.Workflow, error)
	CountByOrganization(ctx context.Context, organizationID string) (int, error)
	Delete(ctx context.Context, id string) error
}

// NotificationRepository stores one notification per (environment id, transaction id).
type NotificationRepository interface {
	// FindOrCreate returns the stored notification for the transaction, creating it from the
	// given value when absent. The boolean reports whether it was created by this call.
	FindOrCreate(ctx context.Context, notification *models.Notification) (*models.Notification, bool, error)
	GetByTransactionID(ctx context.Context, environmentID, transactionID string) (*models.Notification, error)
}

// JobUpdate describes a status transition and the fields written with it.
type JobUpdate struct {
	Status      models.JobStatus
	Attempts    *int
	Error       *string
	Outputs     map[string]any
	Digest      *models.JobDigest
	ScheduledAt *time.Time
}

type JobRepository interface {
	// CreateBatch persists all jobs or none of them.
	CreateBatch(ctx context.Context, jobs []*models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	// UpdateStatus applies the update only when the stored status is one of from.
	// It returns ErrJobStatusConflict otherwise.
	UpdateStatus(ctx context.Context, id string, from []models.JobStatus, update JobUpdate) (*models.Job, error)
	FindDependents(ctx context.Context, jobID string) ([]*models.Job, error)
	FindByTransaction(ctx context.Context, environmentID, transactionID string) ([]*models.Job, error)
	ExistsForSubscriber(ctx context.Context, environmentID, transactionID, subscriberID string) (bool, error)
	// FindOrCreateDigest atomically joins the candidate's events to the delayed digest job with the same
	// (environment, workflow, step, digest value), or stores the candidate when there is none.
	// The boolean reports whether the candidate was stored.
	FindOrCreateDigest(ctx context.Context, candidate *models.Job) (*models.Job, bool, error)
	// ActivateDigest moves a stored pending digest job to delayed, or appends its events to the
	// delayed digest job already open for the same key. The boolean reports whether the given
	// job became the open digest.
	ActivateDigest(ctx context.Context, job *models.Job, scheduledAt time.Time) (*models.Job, bool, error)
}

type SubscriberRepository interface {
	FindBySubscriberID(ctx context.Context, environmentID, subscriberID string) (*models.Subscriber, error)
	// Create returns ErrSubscriberAlreadyExists when (environment id, subscriber id) is taken.
	Create(ctx context.Context, subscriber *models.Subscriber) error
	Update(ctx context.Context, subscriber *models.Subscriber) error
	ListByEnvironment(ctx context.Context, environmentID string, offset, limit int) ([]*models.Subscriber, error)
}

// ExecutionDetailRepository is append only. Creating a detail whose id already exists is a no-op.
type ExecutionDetailRepository interface {
	Create(ctx context.Context, detail *models.ExecutionDetail) error
	FindByTransaction(ctx context.Context, environmentID, transactionID string) ([]*models.ExecutionDetail, error)
	FindByNotification(ctx context.Context, notificationID string) ([]*models.ExecutionDetail, error)
	FindByJob(ctx context.Context, jobID string) ([]*models.ExecutionDetail, error)
}

type OrganizationRepository interface {
	Save(ctx context.Context, organization *models.Organization) error
	GetByID(ctx context.Context, id string) (*models.Organization, error)
}

type IntegrationRepository interface {
	Save(ctx context.Context, integration *models.Integration) error
	// FindActive returns the primary active integration of the channel, or any active one.
	FindActive(ctx context.Context, environmentID string, channel models.StepType) (*models.Integration, error)
}

type TenantRepository interface {
	Save(ctx context.Context, tenant *models.Tenant) error
	GetByIdentifier(ctx context.Context, environmentID, identifier string) (*models.Tenant, error)
}

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByJob(ctx context.Context, jobID string) (*models.Message, error)
	FindBySubscriber(ctx context.Context, environmentID, subscriberID string, channel models.StepType) ([]*models.Message, error)
}

// Apply writes the update onto job.
func (u JobUpdate) Apply(job *models.Job, now time.Time) {
	job.Status = u.Status
	job.UpdatedAt = now

	if u.Attempts != nil {
		job.Attempts = *u.Attempts
	}

	if u.Error != nil {
		job.Error = *u.Error
	}

	if u.Outputs != nil {
		job.Outputs = u.Outputs
	}

	if u.Digest != nil {
		job.Digest = u.Digest
	}

	if u.ScheduledAt != nil {
		scheduledAt := *u.ScheduledAt
		job.ScheduledAt = &scheduledAt
	}
}

// StatusIn reports whether status is one of the given statuses.
func StatusIn(status models.JobStatus, statuses []models.JobStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}

	return false
}
