package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/novu-co/novu-sub003/pkg/cache"
	"github.com/novu-co/novu-sub003/pkg/channels/gochannel"
	"github.com/novu-co/novu-sub003/pkg/channels/kafka"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"github.com/novu-co/novu-sub003/pkg/queue/rabbitmq"
	queueredis "github.com/novu-co/novu-sub003/pkg/queue/redis"
	goredis "github.com/redis/go-redis/v9"
)

const (
	QueueMemory   = "memory"
	QueueKafka    = "kafka"
	QueueRabbitMQ = "rabbitmq"

	serviceName = "novu"
)

var ErrUnsupportedQueue = errors.New("unsupported queue provider")

// QueueConfig selects and configures the work queue backend.
type QueueConfig struct {
	Provider     string
	KafkaBrokers []string
	RabbitMQURL  string
	Concurrency  int
}

// Queue is the configured work queue. Delayed is set when delays are kept by a scheduler in
// front of the backend and its poller must be started.
type Queue struct {
	queue.Queue

	Delayed *queue.DelayedQueue
}

// StartDelayed runs the delayed message poller when there is one.
func (q *Queue) StartDelayed(ctx context.Context) error {
	if q.Delayed == nil {
		return nil
	}

	return q.Delayed.Start(ctx)
}

// NewQueue builds the queue backend. Watermill backends get delayed delivery from a redis sorted
// set when a redis client is given and from in-process timers otherwise; RabbitMQ delays natively.
func NewQueue(cfg QueueConfig, redisClient goredis.UniversalClient, logger *slog.Logger) (*Queue, error) {
	switch strings.ToLower(cfg.Provider) {
	case QueueRabbitMQ:
		q, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.Concurrency, logger)
		if err != nil {
			return nil, err
		}

		return &Queue{Queue: q}, nil

	case QueueKafka:
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), cfg.KafkaBrokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return withDelays(queue.NewWatermillQueue(pub, sub, logger, cfg.Concurrency), redisClient, logger), nil

	case QueueMemory, "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return withDelays(queue.NewWatermillQueue(pub, sub, logger, cfg.Concurrency), redisClient, logger), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedQueue, cfg.Provider)
	}
}

func withDelays(inner queue.Queue, redisClient goredis.UniversalClient, logger *slog.Logger) *Queue {
	var scheduler queue.Scheduler = queue.NewMemoryScheduler(logger)
	if redisClient != nil {
		scheduler = queueredis.NewScheduler(redisClient, queueredis.DefaultKey, queueredis.DefaultPollInterval, logger)
	}

	delayed := queue.NewDelayedQueue(inner, scheduler, logger)

	return &Queue{Queue: delayed, Delayed: delayed}
}

// NewCache connects to redis when a URL is given and falls back to a process local cache. The
// redis client is returned for the components that need it directly.
func NewCache(ctx context.Context, redisURL string, logger *slog.Logger) (cache.Cache, goredis.UniversalClient, error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "no redis url configured, using an in-memory cache")

		return cache.NewMemoryCache(), nil, nil
	}

	client, err := cache.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}

	return cache.NewRedisCache(client, serviceName, logger), client, nil
}
