// Package services implements the management operations behind the REST API: workflow
// definitions and the activity timeline of a transaction.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrWorkflowNil         = errors.New("workflow cannot be nil")
	ErrDuplicateStepID     = errors.New("step ids must be unique within a workflow")
	ErrInvalidCondition    = errors.New("invalid step condition")
	ErrInvalidFilter       = errors.New("invalid step filter")
	ErrInvalidControls     = errors.New("invalid step controls")
	ErrInvalidStepMetadata = errors.New("invalid step metadata")

	// Not Found Errors (404 Not Found).
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrDuplicateStepID) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidControls) ||
		errors.Is(err, ErrInvalidStepMetadata)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
