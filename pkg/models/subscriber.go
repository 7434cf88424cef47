package models

import (
	"maps"
	"reflect"
	"time"
)

// ChannelCredentials holds the provider specific address of a subscriber.
type ChannelCredentials struct {
	ProviderID   string   `json:"provider_id"             validate:"required"`
	DeviceTokens []string `json:"device_tokens,omitempty"`
	WebhookURL   string   `json:"webhook_url,omitempty"`
	Channel      string   `json:"channel,omitempty"`
}

// Subscriber is an end user of an environment, keyed by (environment id, subscriber id).
type Subscriber struct {
	ID             string               `json:"id"`
	EnvironmentID  string               `json:"environment_id"`
	OrganizationID string               `json:"organization_id"`
	SubscriberID   string               `json:"subscriber_id"`
	FirstName      string               `json:"first_name,omitempty"`
	LastName       string               `json:"last_name,omitempty"`
	Email          string               `json:"email,omitempty"`
	Phone          string               `json:"phone,omitempty"`
	Avatar         string               `json:"avatar,omitempty"`
	Locale         string               `json:"locale,omitempty"`
	Timezone       string               `json:"timezone,omitempty"`
	Data           map[string]any       `json:"data,omitempty"`
	Channels       []ChannelCredentials `json:"channels,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	DeletedAt      *time.Time           `json:"deleted_at,omitempty"`
}

// SubscriberPayload is the inline subscriber definition accepted by triggers and the identify API.
// Empty fields leave the stored value untouched.
type SubscriberPayload struct {
	SubscriberID string               `json:"subscriberId"        validate:"required,max=256"`
	FirstName    string               `json:"firstName,omitempty"`
	LastName     string               `json:"lastName,omitempty"`
	Email        string               `json:"email,omitempty"     validate:"omitempty,email"`
	Phone        string               `json:"phone,omitempty"`
	Avatar       string               `json:"avatar,omitempty"`
	Locale       string               `json:"locale,omitempty"`
	Timezone     string               `json:"timezone,omitempty"`
	Data         map[string]any       `json:"data,omitempty"`
	Channels     []ChannelCredentials `json:"channels,omitempty"  validate:"dive"`
}

// HasProfile reports whether the payload carries anything besides the subscriber id.
func (p SubscriberPayload) HasProfile() bool {
	return p.FirstName != "" || p.LastName != "" || p.Email != "" || p.Phone != "" ||
		p.Avatar != "" || p.Locale != "" || p.Timezone != "" || len(p.Data) > 0 || len(p.Channels) > 0
}

// NewSubscriberFromPayload builds a subscriber record for a first-time identify.
func NewSubscriberFromPayload(environmentID, organizationID string, payload SubscriberPayload) *Subscriber {
	subscriber := &Subscriber{
		EnvironmentID:  environmentID,
		OrganizationID: organizationID,
		SubscriberID:   payload.SubscriberID,
	}
	subscriber.Apply(payload)

	return subscriber
}

// Apply merges the payload into the subscriber and reports whether anything changed.
// Custom data is merged key by key and channel credentials are replaced per provider.
func (s *Subscriber) Apply(payload SubscriberPayload) bool {
	changed := false

	set := func(dst *string, value string) {
		if value != "" && *dst != value {
			*dst = value
			changed = true
		}
	}

	set(&s.FirstName, payload.FirstName)
	set(&s.LastName, payload.LastName)
	set(&s.Email, payload.Email)
	set(&s.Phone, payload.Phone)
	set(&s.Avatar, payload.Avatar)
	set(&s.Locale, payload.Locale)
	set(&s.Timezone, payload.Timezone)

	if len(payload.Data) > 0 {
		if s.Data == nil {
			s.Data = make(map[string]any, len(payload.Data))
		}

		for key, value := range payload.Data {
			if current, ok := s.Data[key]; !ok || !reflect.DeepEqual(current, value) {
				s.Data[key] = value
				changed = true
			}
		}
	}

	for _, credentials := range payload.Channels {
		if s.upsertChannel(credentials) {
			changed = true
		}
	}

	return changed
}

func (s *Subscriber) upsertChannel(credentials ChannelCredentials) bool {
	for i, existing := range s.Channels {
		if existing.ProviderID != credentials.ProviderID {
			continue
		}

		if reflect.DeepEqual(existing, credentials) {
			return false
		}

		s.Channels[i] = credentials

		return true
	}

	s.Channels = append(s.Channels, credentials)

	return true
}

// ChannelFor returns the credentials stored for a provider.
func (s *Subscriber) ChannelFor(providerID string) (ChannelCredentials, bool) {
	for _, credentials := range s.Channels {
		if credentials.ProviderID == providerID {
			return credentials, true
		}
	}

	return ChannelCredentials{}, false
}

// TemplateData returns the subscriber as exposed to templates and filters.
func (s *Subscriber) TemplateData() map[string]any {
	data := map[string]any{
		"subscriberId": s.SubscriberID,
		"firstName":    s.FirstName,
		"lastName":     s.LastName,
		"email":        s.Email,
		"phone":        s.Phone,
		"avatar":       s.Avatar,
		"locale":       s.Locale,
		"timezone":     s.Timezone,
	}

	custom := make(map[string]any, len(s.Data))
	maps.Copy(custom, s.Data)
	data["data"] = custom

	return data
}

// TemplateData returns the actor as exposed to templates and filters.
func (p *SubscriberPayload) TemplateData() map[string]any {
	if p == nil {
		return map[string]any{}
	}

	subscriber := NewSubscriberFromPayload("", "", *p)

	return subscriber.TemplateData()
}
