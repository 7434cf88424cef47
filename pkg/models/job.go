package models

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusSkipped   JobStatus = "skipped"
	JobStatusDelayed   JobStatus = "delayed"
)

// DefaultMaxAttempts bounds how many times a job runs before it stays failed.
const DefaultMaxAttempts = 3

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusQueued, JobStatusDelayed, JobStatusSkipped, JobStatusCanceled},
	JobStatusDelayed: {JobStatusQueued, JobStatusCanceled},
	JobStatusQueued:  {JobStatusRunning, JobStatusCanceled, JobStatusSkipped},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusSkipped, JobStatusCanceled},
	JobStatusFailed:  {JobStatusQueued},
}

// CanTransition reports whether the state machine allows moving from one status to another.
// It does not account for retry budgets; see Job.CanTransitionTo.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// JobDigest is the digest state carried by a digest job.
type JobDigest struct {
	Amount         int              `json:"amount"`
	Unit           TimeUnit         `json:"unit"`
	DigestKey      string           `json:"digest_key,omitempty"`
	DigestValue    string           `json:"digest_value"`
	LookBackWindow *TimeWindow      `json:"look_back_window,omitempty"`
	Events         []map[string]any `json:"events"`
}

// Job is one step's execution for one subscriber within one notification.
type Job struct {
	ID                 string             `json:"id"`
	Type               StepType           `json:"type"`
	Status             JobStatus          `json:"status"`
	EnvironmentID      string             `json:"environment_id"`
	OrganizationID     string             `json:"organization_id"`
	UserID             string             `json:"user_id,omitempty"`
	NotificationID     string             `json:"notification_id"`
	TransactionID      string             `json:"transaction_id"`
	WorkflowID         string             `json:"workflow_id"`
	WorkflowIdentifier string             `json:"workflow_identifier"`
	StepID             string             `json:"step_id"`
	Step               Step               `json:"step"`
	SubscriberID       string             `json:"subscriber_id"`
	ProviderID         string             `json:"provider_id,omitempty"`
	DependsOn          string             `json:"depends_on,omitempty"`
	Payload            map[string]any     `json:"payload,omitempty"`
	Overrides          map[string]any     `json:"overrides,omitempty"`
	Tenant             *TenantRef         `json:"tenant,omitempty"`
	Actor              *SubscriberPayload `json:"actor,omitempty"`
	BridgeURL          string             `json:"bridge_url,omitempty"`
	Digest             *JobDigest         `json:"digest,omitempty"`
	Outputs            map[string]any     `json:"outputs,omitempty"`
	Attempts           int                `json:"attempts"`
	MaxAttempts        int                `json:"max_attempts"`
	Error              string             `json:"error,omitempty"`
	ScheduledAt        *time.Time         `json:"scheduled_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// CanRetry reports whether a failed job still has attempts left.
func (j *Job) CanRetry() bool {
	maxAttempts := j.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return j.Status == JobStatusFailed && j.Attempts < maxAttempts
}

// IsTerminal reports whether the job can no longer change status.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCanceled, JobStatusSkipped:
		return true
	case JobStatusFailed:
		return !j.CanRetry()
	default:
		return false
	}
}

// CanTransitionTo reports whether the job may move to the given status.
func (j *Job) CanTransitionTo(next JobStatus) bool {
	if j.IsTerminal() {
		return false
	}

	return CanTransition(j.Status, next)
}
