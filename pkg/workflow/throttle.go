package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/novu-co/novu-sub003/pkg/cache"
	"github.com/novu-co/novu-sub003/pkg/models"
)

// Throttler counts executions of a throttle step per subscriber within its window.
type Throttler struct {
	cache  cache.Cache
	logger *slog.Logger
}

func NewThrottler(c cache.Cache, logger *slog.Logger) *Throttler {
	return &Throttler{cache: c, logger: logger.With("module", "throttler")}
}

// Allow counts this execution and reports whether it is within the step threshold. The counter
// expires with the window that started at the first counted execution. When the counter cannot
// be reached the execution is let through.
func (t *Throttler) Allow(ctx context.Context, job *models.Job) (bool, error) {
	window, err := job.Step.Metadata.Window()
	if err != nil || window <= 0 {
		return false, fmt.Errorf("%w: throttle window of step %s", ErrInvalidStepMetadata, job.StepID)
	}

	threshold := job.Step.Metadata.Threshold
	if threshold <= 0 {
		threshold = 1
	}

	count, err := t.cache.Incr(ctx, throttleKey(job), window)
	if err != nil {
		t.logger.WarnContext(ctx, "throttle counter unavailable, allowing execution",
			"job_id", job.ID,
			"step_id", job.StepID,
			"error", err,
		)

		return true, nil
	}

	return count <= int64(threshold), nil
}

func throttleKey(job *models.Job) string {
	key := fmt.Sprintf("throttle:%s:%s:%s:%s", job.EnvironmentID, job.WorkflowID, job.StepID, job.SubscriberID)

	if job.Step.Metadata.ThrottleKey != "" {
		if value, ok := PayloadValue(job.Payload, job.Step.Metadata.ThrottleKey); ok {
			key = fmt.Sprintf("%s:%v", key, value)
		}
	}

	return key
}
