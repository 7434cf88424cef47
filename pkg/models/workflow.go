// Package models defines the core domain models for notification workflow orchestration
package models

import "time"

// Workflow is a named, ordered list of steps executed for each subscriber of a trigger.
type Workflow struct {
	ID             string         `json:"id"`
	EnvironmentID  string         `json:"environment_id"           validate:"required"`
	OrganizationID string         `json:"organization_id"          validate:"required"`
	Identifier     string         `json:"identifier"               validate:"required,min=1,max=128"`
	Name           string         `json:"name"                     validate:"required"`
	Active         bool           `json:"active"`
	Critical       bool           `json:"critical,omitempty"`
	PayloadSchema  map[string]any `json:"payload_schema,omitempty"`
	Steps          []*Step        `json:"steps"                    validate:"dive"`
	Tags           []string       `json:"tags,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
}

// ActiveSteps returns the steps that take part in execution, in workflow order.
func (w *Workflow) ActiveSteps() []*Step {
	steps := make([]*Step, 0, len(w.Steps))

	for _, step := range w.Steps {
		if step != nil && step.Active {
			steps = append(steps, step)
		}
	}

	return steps
}

// StepByID returns the step with the given id.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	for _, step := range w.Steps {
		if step != nil && step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// HasDeferringSteps reports whether any active step is a delay or a digest.
func (w *Workflow) HasDeferringSteps() bool {
	for _, step := range w.ActiveSteps() {
		if step.Type.IsDeferring() {
			return true
		}
	}

	return false
}
