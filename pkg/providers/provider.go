// Package providers delivers rendered messages through channel providers.
package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
)

// SendOptions is one message addressed to one subscriber.
type SendOptions struct {
	JobID         string
	TransactionID string
	SubscriberID  string
	// To is the channel address: an email, a phone number, a chat webhook or the subscriber id.
	To           string
	DeviceTokens []string
	Content      map[string]any
	Overrides    map[string]any
}

// SendResult is the provider's acknowledgement of a message.
type SendResult struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
}

// Provider sends messages of one channel.
type Provider interface {
	ID() string
	Channel() models.StepType
	Send(ctx context.Context, opts SendOptions) (SendResult, error)
}

// Factory builds a provider from the credentials of an integration.
type Factory interface {
	ID() string
	Create(channel models.StepType, credentials map[string]any, logger *slog.Logger) (Provider, error)
}
