package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const redispatchDelay = time.Second

// MemoryScheduler keeps delayed messages in process. Messages are lost on restart.
type MemoryScheduler struct {
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	dispatch DispatchFunc
	pending  []ScheduledMessage
	timers   map[string]*time.Timer
	closed   bool
}

func NewMemoryScheduler(logger *slog.Logger) *MemoryScheduler {
	return &MemoryScheduler{
		logger: logger.With("module", "memory_scheduler"),
		timers: make(map[string]*time.Timer),
	}
}

func (s *MemoryScheduler) Schedule(_ context.Context, msg ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrQueueClosed
	}

	if s.dispatch == nil {
		s.pending = append(s.pending, msg)

		return nil
	}

	s.arm(msg, time.Until(msg.DueAt))

	return nil
}

func (s *MemoryScheduler) Run(ctx context.Context, dispatch DispatchFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrQueueClosed
	}

	s.ctx = ctx
	s.dispatch = dispatch

	for _, msg := range s.pending {
		s.arm(msg, time.Until(msg.DueAt))
	}

	s.pending = nil

	return nil
}

// Len reports how many messages are waiting.
func (s *MemoryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers) + len(s.pending)
}

func (s *MemoryScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}

	return nil
}

// arm must be called with the lock held.
func (s *MemoryScheduler) arm(msg ScheduledMessage, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.timers[msg.ID] = time.AfterFunc(delay, func() {
		s.fire(msg)
	})
}

func (s *MemoryScheduler) fire(msg ScheduledMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	delete(s.timers, msg.ID)
	ctx, dispatch := s.ctx, s.dispatch
	s.mu.Unlock()

	err := dispatch(ctx, msg)
	if err == nil {
		return
	}

	s.logger.WarnContext(ctx, "failed to dispatch delayed message, retrying",
		"topic", msg.Topic,
		"message_id", msg.ID,
		"error", err,
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed && ctx.Err() == nil {
		s.arm(msg, redispatchDelay)
	}
}
