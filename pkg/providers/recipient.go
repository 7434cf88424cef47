package providers

import (
	"fmt"

	"github.com/novu-co/novu-sub003/pkg/models"
)

// Recipient resolves where a channel message for sub is delivered. It returns ErrMissingRecipient
// when the subscriber has no address for the channel and provider.
func Recipient(channel models.StepType, providerID string, sub *models.Subscriber) (string, []string, error) {
	switch channel {
	case models.StepTypeEmail:
		if sub.Email != "" {
			return sub.Email, nil, nil
		}
	case models.StepTypeSMS:
		if sub.Phone != "" {
			return sub.Phone, nil, nil
		}
	case models.StepTypeChat:
		if credentials, ok := sub.ChannelFor(providerID); ok && credentials.WebhookURL != "" {
			return credentials.WebhookURL, nil, nil
		}
	case models.StepTypePush:
		if credentials, ok := sub.ChannelFor(providerID); ok && len(credentials.DeviceTokens) > 0 {
			return credentials.DeviceTokens[0], credentials.DeviceTokens, nil
		}
	case models.StepTypeInApp:
		return sub.SubscriberID, nil, nil
	}

	return "", nil, fmt.Errorf("subscriber %s has no %s address for %s: %w", sub.SubscriberID, channel, providerID, ErrMissingRecipient)
}
