package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/novu-co/novu-sub003/pkg/models"
)

// LogProviderID delivers nothing and logs every message. It serves any channel.
const LogProviderID = "log"

type LogFactory struct{}

func NewLogFactory() *LogFactory {
	return &LogFactory{}
}

func (*LogFactory) ID() string { return LogProviderID }

func (*LogFactory) Create(channel models.StepType, _ map[string]any, logger *slog.Logger) (Provider, error) {
	return &LogProvider{
		channel: channel,
		logger:  logger.With("provider", LogProviderID, "channel", channel),
	}, nil
}

type LogProvider struct {
	channel models.StepType
	logger  *slog.Logger
}

func (*LogProvider) ID() string { return LogProviderID }

func (p *LogProvider) Channel() models.StepType { return p.channel }

func (p *LogProvider) Send(ctx context.Context, opts SendOptions) (SendResult, error) {
	p.logger.InfoContext(ctx, "sending message",
		"job_id", opts.JobID,
		"transaction_id", opts.TransactionID,
		"subscriber_id", opts.SubscriberID,
		"to", opts.To,
		"content", opts.Content,
	)

	return SendResult{ID: uuid.NewString(), Date: time.Now().UTC()}, nil
}
