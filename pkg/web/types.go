// Package web provides HTTP request and response types for the notification API.
package web

import "github.com/novu-co/novu-sub003/pkg/models"

// Headers carrying the caller's environment and organization. Authentication happens in front of
// this API; the gateway sets both on every request.
const (
	EnvironmentHeader  = "X-Novu-Environment-Id"
	OrganizationHeader = "X-Novu-Organization-Id"
)

// SaveWorkflowRequest creates a workflow or replaces the one with the same identifier.
type SaveWorkflowRequest struct {
	Identifier    string         `json:"identifier"              validate:"required,min=1,max=128"`
	Name          string         `json:"name"                    validate:"required"`
	Active        bool           `json:"active"`
	Critical      bool           `json:"critical,omitempty"`
	PayloadSchema map[string]any `json:"payloadSchema,omitempty"`
	Steps         []*models.Step `json:"steps"`
	Tags          []string       `json:"tags,omitempty"`
}

// BulkTriggerRequest carries up to a hundred trigger events.
type BulkTriggerRequest struct {
	Events []models.TriggerCommand `json:"events" validate:"required,min=1"`
}

// BulkTriggerResponse holds one response per event, in request order.
type BulkTriggerResponse struct {
	Data []models.TriggerResponse `json:"data"`
}
