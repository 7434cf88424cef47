package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/novu-co/novu-sub003/pkg/models"
)

// InAppProviderID is the built-in provider of the in-app channel. The stored message record is
// the delivery, so sending only acknowledges it.
const InAppProviderID = "novu"

type InAppFactory struct{}

func NewInAppFactory() *InAppFactory {
	return &InAppFactory{}
}

func (*InAppFactory) ID() string { return InAppProviderID }

func (*InAppFactory) Create(channel models.StepType, _ map[string]any, logger *slog.Logger) (Provider, error) {
	if channel != models.StepTypeInApp {
		return nil, fmt.Errorf("provider %s does not serve channel %s: %w", InAppProviderID, channel, ErrInvalidCredentials)
	}

	return &InAppProvider{logger: logger.With("provider", InAppProviderID)}, nil
}

type InAppProvider struct {
	logger *slog.Logger
}

func (*InAppProvider) ID() string { return InAppProviderID }

func (*InAppProvider) Channel() models.StepType { return models.StepTypeInApp }

func (p *InAppProvider) Send(ctx context.Context, opts SendOptions) (SendResult, error) {
	p.logger.DebugContext(ctx, "in-app message stored", "job_id", opts.JobID, "subscriber_id", opts.SubscriberID)

	id, err := uuid.NewV7()
	if err != nil {
		return SendResult{}, &SendError{ProviderID: InAppProviderID, Err: err}
	}

	return SendResult{ID: id.String(), Date: time.Now().UTC()}, nil
}
