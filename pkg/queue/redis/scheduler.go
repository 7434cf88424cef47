// Package redis keeps delayed queue messages in a redis sorted set scored by due time.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/novu-co/novu-sub003/pkg/queue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const (
	DefaultKey          = "novu:queue:delayed"
	DefaultPollInterval = time.Second

	batchSize       = 100
	redispatchDelay = time.Second
)

// Scheduler survives process restarts and is shared by every worker; a message is claimed by
// whichever poller removes it from the set first.
type Scheduler struct {
	client   goredis.UniversalClient
	key      string
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func NewScheduler(client goredis.UniversalClient, key string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if key == "" {
		key = DefaultKey
	}

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Scheduler{
		client:   client,
		key:      key,
		interval: interval,
		logger:   logger.With("module", "redis_scheduler", "key", key),
	}
}

func (s *Scheduler) Schedule(ctx context.Context, msg queue.ScheduledMessage) error {
	member, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode scheduled message: %w", err)
	}

	err = s.client.ZAdd(ctx, s.key, goredis.Z{Score: float64(msg.DueAt.UnixMilli()), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule message %s: %w", msg.ID, err)
	}

	return nil
}

func (s *Scheduler) Run(ctx context.Context, dispatch queue.DispatchFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		_, err := s.Poll(ctx, dispatch)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to poll delayed messages", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register poller: %w", err)
	}

	s.cron.Start()

	s.logger.InfoContext(ctx, "Delayed message poller started", "interval", s.interval)

	return nil
}

// Poll dispatches every message that is due and returns how many were dispatched.
func (s *Scheduler) Poll(ctx context.Context, dispatch queue.DispatchFunc) (int, error) {
	now := time.Now()

	members, err := s.client.ZRangeByScore(ctx, s.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: batchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read due messages: %w", err)
	}

	dispatched := 0

	for _, member := range members {
		removed, err := s.client.ZRem(ctx, s.key, member).Result()
		if err != nil {
			return dispatched, fmt.Errorf("failed to claim delayed message: %w", err)
		}

		if removed == 0 {
			continue
		}

		var msg queue.ScheduledMessage

		err = json.Unmarshal([]byte(member), &msg)
		if err != nil {
			s.logger.ErrorContext(ctx, "dropping undecodable delayed message", "error", err)

			continue
		}

		err = dispatch(ctx, msg)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to dispatch delayed message, rescheduling",
				"topic", msg.Topic,
				"message_id", msg.ID,
				"error", err,
			)

			msg.DueAt = now.Add(redispatchDelay)

			if err := s.Schedule(ctx, msg); err != nil {
				return dispatched, err
			}

			continue
		}

		dispatched++
	}

	return dispatched, nil
}

// Pending returns the number of messages waiting in the set.
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.key).Result()
}

func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}

	return nil
}
