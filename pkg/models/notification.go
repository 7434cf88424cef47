package models

import "time"

// Notification is the record of one trigger invocation in an environment.
type Notification struct {
	ID                 string         `json:"id"`
	EnvironmentID      string         `json:"environment_id"`
	OrganizationID     string         `json:"organization_id"`
	TransactionID      string         `json:"transaction_id"`
	WorkflowID         string         `json:"workflow_id"`
	WorkflowIdentifier string         `json:"workflow_identifier"`
	Payload            map[string]any `json:"payload,omitempty"`
	Tenant             *TenantRef     `json:"tenant,omitempty"`
	ActorID            string         `json:"actor_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Message is the content delivered to a subscriber through one channel.
type Message struct {
	ID                string         `json:"id"`
	EnvironmentID     string         `json:"environment_id"`
	OrganizationID    string         `json:"organization_id"`
	JobID             string         `json:"job_id"`
	NotificationID    string         `json:"notification_id"`
	TransactionID     string         `json:"transaction_id"`
	SubscriberID      string         `json:"subscriber_id"`
	Channel           StepType       `json:"channel"`
	ProviderID        string         `json:"provider_id"`
	Content           map[string]any `json:"content"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Status            string         `json:"status"`
	Seen              bool           `json:"seen"`
	Read              bool           `json:"read"`
	CreatedAt         time.Time      `json:"created_at"`
}
