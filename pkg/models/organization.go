package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ServiceLevel is the subscription tier of an organization.
type ServiceLevel string

const (
	ServiceLevelUnset      ServiceLevel = ""
	ServiceLevelFree       ServiceLevel = "free"
	ServiceLevelBusiness   ServiceLevel = "business"
	ServiceLevelEnterprise ServiceLevel = "enterprise"
)

// Organization owns environments, workflows and integrations.
type Organization struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	APIServiceLevel ServiceLevel `json:"api_service_level,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Integration is a configured provider for one channel of an environment.
type Integration struct {
	ID             string         `json:"id"`
	EnvironmentID  string         `json:"environment_id"  validate:"required"`
	OrganizationID string         `json:"organization_id"`
	ProviderID     string         `json:"provider_id"     validate:"required"`
	Channel        StepType       `json:"channel"         validate:"required"`
	Active         bool           `json:"active"`
	Primary        bool           `json:"primary"`
	Credentials    map[string]any `json:"credentials,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Tenant is a customer-defined partition of subscribers inside an environment.
type Tenant struct {
	ID            string         `json:"id"`
	EnvironmentID string         `json:"environment_id"`
	Identifier    string         `json:"identifier"     validate:"required"`
	Name          string         `json:"name,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TemplateData returns the tenant as exposed to templates and filters.
func (t *Tenant) TemplateData() map[string]any {
	if t == nil {
		return map[string]any{}
	}

	return map[string]any{
		"identifier": t.Identifier,
		"name":       t.Name,
		"data":       t.Data,
	}
}

// TenantRef is the tenant context of a trigger: either an identifier or an inline definition.
type TenantRef struct {
	Identifier string         `json:"identifier"`
	Name       string         `json:"name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// UnmarshalJSON accepts a bare identifier string as well as an object.
func (t *TenantRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.Identifier)
	}

	type plain TenantRef

	var ref plain
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("invalid tenant: %w", err)
	}

	*t = TenantRef(ref)

	return nil
}
