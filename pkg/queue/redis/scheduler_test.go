package redis

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/novu-co/novu-sub003/pkg/queue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupScheduler(t *testing.T) (*Scheduler, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	scheduler := NewScheduler(client, "test:delayed", 100*time.Millisecond, logger)

	t.Cleanup(func() {
		_ = scheduler.Close()
		_ = client.Close()
		require.NoError(t, container.Terminate(context.Background()))
		cancel()
	})

	return scheduler, ctx
}

func TestScheduler_PollDispatchesDueMessages(t *testing.T) {
	scheduler, ctx := setupScheduler(t)

	require.NoError(t, scheduler.Schedule(ctx, queue.ScheduledMessage{ID: "due", Topic: queue.TopicStandard, Payload: []byte(`{"a":1}`), DueAt: time.Now().Add(-time.Second)}))
	require.NoError(t, scheduler.Schedule(ctx, queue.ScheduledMessage{ID: "later", Topic: queue.TopicStandard, DueAt: time.Now().Add(time.Hour)}))

	var got []queue.ScheduledMessage

	dispatched, err := scheduler.Poll(ctx, func(_ context.Context, msg queue.ScheduledMessage) error {
		got = append(got, msg)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].ID)
	assert.JSONEq(t, `{"a":1}`, string(got[0].Payload))

	pending, err := scheduler.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestScheduler_ReschedulesFailedDispatch(t *testing.T) {
	scheduler, ctx := setupScheduler(t)

	require.NoError(t, scheduler.Schedule(ctx, queue.ScheduledMessage{ID: "m", Topic: queue.TopicStandard, DueAt: time.Now()}))

	dispatched, err := scheduler.Poll(ctx, func(context.Context, queue.ScheduledMessage) error {
		return errors.New("queue unavailable")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)

	pending, err := scheduler.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestScheduler_Run(t *testing.T) {
	scheduler, ctx := setupScheduler(t)

	var (
		mu  sync.Mutex
		ids []string
	)

	require.NoError(t, scheduler.Run(ctx, func(_ context.Context, msg queue.ScheduledMessage) error {
		mu.Lock()
		defer mu.Unlock()

		ids = append(ids, msg.ID)

		return nil
	}))

	require.NoError(t, scheduler.Schedule(ctx, queue.ScheduledMessage{ID: "m", Topic: queue.TopicWorkflow, DueAt: time.Now().Add(200 * time.Millisecond)}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(ids) == 1
	}, 5*time.Second, 50*time.Millisecond)
}
