package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// AddressingType tells how the recipients of a trigger are selected.
type AddressingType string

const (
	AddressingMulticast AddressingType = "multicast"
	AddressingBroadcast AddressingType = "broadcast"
)

var ErrInvalidRecipient = errors.New("recipient must be a subscriber id or an object with subscriberId")

// Recipient is either a subscriber id or an inline subscriber definition.
type Recipient struct {
	SubscriberPayload
}

// UnmarshalJSON accepts `"id"` as well as `{"subscriberId": "id", ...}`.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecipient, err)
		}

		r.SubscriberPayload = SubscriberPayload{SubscriberID: id}

		return nil
	}

	var payload SubscriberPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecipient, err)
	}

	r.SubscriberPayload = payload

	return nil
}

// MarshalJSON writes the recipient as an object.
func (r Recipient) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.SubscriberPayload)
}

// Recipients is the `to` field of a trigger: one recipient or a list of them.
type Recipients []Recipient

func (rs *Recipients) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var list []Recipient
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}

		*rs = list

		return nil
	}

	var single Recipient
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}

	*rs = Recipients{single}

	return nil
}

// Dedupe drops recipients whose subscriber id was already seen, keeping the first definition.
func (rs Recipients) Dedupe() Recipients {
	seen := make(map[string]struct{}, len(rs))
	out := make(Recipients, 0, len(rs))

	for _, recipient := range rs {
		if _, ok := seen[recipient.SubscriberID]; ok {
			continue
		}

		seen[recipient.SubscriberID] = struct{}{}
		out = append(out, recipient)
	}

	return out
}

// TriggerCommand is a validated trigger request scoped to an environment.
type TriggerCommand struct {
	EnvironmentID      string         `json:"environmentId"            validate:"required"`
	OrganizationID     string         `json:"organizationId"           validate:"required"`
	UserID             string         `json:"userId"`
	WorkflowIdentifier string         `json:"name"                     validate:"required"`
	Payload            map[string]any `json:"payload"`
	To                 Recipients     `json:"to"                       validate:"required_unless=AddressingType broadcast,dive"`
	AddressingType     AddressingType `json:"addressingType,omitempty" validate:"omitempty,oneof=multicast broadcast"`
	TransactionID      string         `json:"transactionId,omitempty"  validate:"omitempty,max=256"`
	Overrides          map[string]any `json:"overrides,omitempty"`
	Tenant             *TenantRef     `json:"tenant,omitempty"`
	Actor              *Recipient     `json:"actor,omitempty"`
	BridgeURL          string         `json:"bridgeUrl,omitempty"      validate:"omitempty,url"`
	BridgeWorkflow     map[string]any `json:"bridgeWorkflow,omitempty"`
}

// TriggerStatus is the outcome reported to the caller of a trigger.
type TriggerStatus string

const (
	TriggerStatusProcessed            TriggerStatus = "processed"
	TriggerStatusNotActive            TriggerStatus = "trigger_not_active"
	TriggerStatusNoActiveStepsDefined TriggerStatus = "no_workflow_active_steps_defined"
	TriggerStatusNoStepsDefined       TriggerStatus = "no_workflow_steps_defined"
	TriggerStatusNoTenantFound        TriggerStatus = "no_tenant_found"
	TriggerStatusError                TriggerStatus = "error"
)

// TriggerResponse is returned synchronously by a trigger call.
type TriggerResponse struct {
	Acknowledged  bool          `json:"acknowledged"`
	Status        TriggerStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	Error         []string      `json:"error,omitempty"`
}

// TriggerJobData is the queue payload consumed by the workflow worker.
type TriggerJobData struct {
	EnvironmentID  string              `json:"environmentId"`
	OrganizationID string              `json:"organizationId"`
	UserID         string              `json:"userId"`
	Identifier     string              `json:"identifier"`
	Payload        map[string]any      `json:"payload"`
	Overrides      map[string]any      `json:"overrides"`
	TransactionID  string              `json:"transactionId"`
	Actor          *SubscriberPayload  `json:"actor,omitempty"`
	Tenant         *TenantRef          `json:"tenant,omitempty"`
	BridgeURL      string              `json:"bridgeUrl,omitempty"`
	BridgeWorkflow map[string]any      `json:"bridgeWorkflow,omitempty"`
	AddressingType AddressingType      `json:"addressingType"`
	To             []SubscriberPayload `json:"to,omitempty"`
}
