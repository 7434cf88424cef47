// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates a workflow with the same identifier already exists in the environment.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	ErrNotificationNotFound = errors.New("notification not found")

	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobStatusConflict indicates the job was not in any of the expected statuses.
	ErrJobStatusConflict = errors.New("job status conflict")

	// ErrSubscriberNotFound indicates no subscriber exists for (environment id, subscriber id).
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrSubscriberAlreadyExists is returned by Create when the unique key is already taken.
	ErrSubscriberAlreadyExists = errors.New("subscriber already exists")

	ErrOrganizationNotFound = errors.New("organization not found")
	ErrIntegrationNotFound  = errors.New("integration not found")
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string // Workflow ID or identifier
	Err        error  // Underlying error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// JobError wraps job-related errors with additional context.
type JobError struct {
	Op    string
	JobID string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewJobError(op, jobID string, err error) *JobError {
	return &JobError{Op: op, JobID: jobID, Err: err}
}

// SubscriberError wraps subscriber-related errors with the environment scoped key.
type SubscriberError struct {
	Op            string
	EnvironmentID string
	SubscriberID  string
	Err           error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("%s operation failed for subscriber %s in environment %s: %v", e.Op, e.SubscriberID, e.EnvironmentID, e.Err)
}

func (e *SubscriberError) Unwrap() error {
	return e.Err
}

func (e *SubscriberError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewSubscriberError(op, environmentID, subscriberID string, err error) *SubscriberError {
	return &SubscriberError{Op: op, EnvironmentID: environmentID, SubscriberID: subscriberID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsJobStatusConflict checks if a compare-and-set status update lost its race.
func IsJobStatusConflict(err error) bool {
	return errors.Is(err, ErrJobStatusConflict)
}

// IsSubscriberNotFound checks if an error indicates a subscriber was not found.
func IsSubscriberNotFound(err error) bool {
	return errors.Is(err, ErrSubscriberNotFound)
}

// IsSubscriberAlreadyExists checks if a create lost the unique key race.
func IsSubscriberAlreadyExists(err error) bool {
	return errors.Is(err, ErrSubscriberAlreadyExists)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrNotificationNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrSubscriberNotFound) ||
		errors.Is(err, ErrOrganizationNotFound) ||
		errors.Is(err, ErrIntegrationNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrMessageNotFound)
}
