package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/novu-co/novu-sub003/pkg/executionlog"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/queue"
)

const (
	DefaultRetryBackoff = 5 * time.Second
	maxRetryBackoff     = time.Hour

	// A delayed job delivered this early is considered due.
	dueTolerance = time.Second
)

var (
	pendingOnly  = []models.JobStatus{models.JobStatusPending}
	queuedOnly   = []models.JobStatus{models.JobStatusQueued}
	runningOnly  = []models.JobStatus{models.JobStatusRunning}
	unfinished   = []models.JobStatus{models.JobStatusPending, models.JobStatusDelayed, models.JobStatusQueued, models.JobStatusRunning}
	notStarted   = []models.JobStatus{models.JobStatusPending, models.JobStatusDelayed, models.JobStatusQueued}
	skippableNow = []models.JobStatus{models.JobStatusPending, models.JobStatusQueued, models.JobStatusRunning}
)

// Lifecycle moves jobs through their state machine. Every transition is a compare-and-set on
// the stored status, so a duplicate queue delivery loses the race and becomes a no-op.
type Lifecycle struct {
	jobs         persistence.JobRepository
	queue        queue.Queue
	details      executionlog.Writer
	digester     *Digester
	metrics      metrics.Sink
	retryBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewLifecycle(
	jobs persistence.JobRepository,
	q queue.Queue,
	details executionlog.Writer,
	digester *Digester,
	sink metrics.Sink,
	retryBackoff time.Duration,
	logger *slog.Logger,
) *Lifecycle {
	if retryBackoff <= 0 {
		retryBackoff = DefaultRetryBackoff
	}

	return &Lifecycle{
		jobs:         jobs,
		queue:        q,
		details:      details,
		digester:     digester,
		metrics:      sink,
		retryBackoff: retryBackoff,
		now:          time.Now,
		logger:       logger.With("module", "job_lifecycle"),
	}
}

// Activate schedules a pending job whose dependency is satisfied: delays and digests are
// enqueued for later, everything else is queued now.
func (l *Lifecycle) Activate(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.StepTypeDelay:
		delay, err := job.Step.Metadata.Window()
		if err != nil {
			return l.Skip(ctx, job, pendingOnly, models.DetailStepSkipped, err, true)
		}

		scheduledAt := l.now().UTC().Add(delay)

		updated, err := l.jobs.UpdateStatus(ctx, job.ID, pendingOnly, persistence.JobUpdate{
			Status:      models.JobStatusDelayed,
			ScheduledAt: &scheduledAt,
		})
		if err != nil {
			return err
		}

		return l.EnqueueDelayed(ctx, updated, models.DetailStepQueuedWithDelay)
	case models.StepTypeDigest:
		decision, digest, err := l.digester.Schedule(ctx, job, true)
		if err != nil {
			if errors.Is(err, ErrInvalidStepMetadata) {
				return l.Skip(ctx, job, pendingOnly, models.DetailStepSkipped, err, true)
			}

			return err
		}

		switch decision {
		case DigestMerged:
			return l.Skip(ctx, job, pendingOnly, models.DetailDigestMerged, map[string]any{"digestJobId": digest.ID}, true)
		case DigestBackoffSkipped:
			return l.QueueNow(ctx, job, models.DetailDigestBackoffSkipped)
		default:
			return l.EnqueueDelayed(ctx, digest, models.DetailStepQueuedWithDelay)
		}
	default:
		return l.QueueNow(ctx, job, models.DetailStepQueued)
	}
}

// QueueNow moves a pending job to queued and enqueues it without delay.
func (l *Lifecycle) QueueNow(ctx context.Context, job *models.Job, reason models.DetailReason) error {
	updated, err := l.jobs.UpdateStatus(ctx, job.ID, pendingOnly, persistence.JobUpdate{Status: models.JobStatusQueued})
	if err != nil {
		return err
	}

	l.metrics.JobTransition(string(updated.Type), string(updated.Status))

	err = l.enqueue(ctx, updated, 0)
	if err != nil {
		return err
	}

	l.record(ctx, executionlog.FromJob(updated, reason, models.DetailStatusPending))

	return nil
}

// EnqueueDelayed enqueues a delayed job so that it is delivered at its scheduled time.
func (l *Lifecycle) EnqueueDelayed(ctx context.Context, job *models.Job, reason models.DetailReason) error {
	var delay time.Duration
	if job.ScheduledAt != nil {
		delay = job.ScheduledAt.Sub(l.now())
	}

	l.metrics.JobTransition(string(job.Type), string(job.Status))

	err := l.enqueue(ctx, job, delay)
	if err != nil {
		return err
	}

	l.record(ctx, executionlog.WithRaw(
		executionlog.FromJob(job, reason, models.DetailStatusPending),
		map[string]any{"scheduledAt": job.ScheduledAt},
	))

	return nil
}

// Start claims a delivered job for execution. A delayed job that is not due yet is put back on
// the queue and ErrNotDue is returned. A job in any other state yields ErrJobStatusConflict.
func (l *Lifecycle) Start(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := l.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == models.JobStatusDelayed {
		if job.ScheduledAt != nil {
			remaining := job.ScheduledAt.Sub(l.now())
			if remaining > dueTolerance {
				err = l.enqueue(ctx, job, remaining)
				if err != nil {
					return nil, err
				}

				return nil, fmt.Errorf("job %s due in %s: %w", job.ID, remaining, ErrNotDue)
			}
		}

		job, err = l.jobs.UpdateStatus(ctx, job.ID, []models.JobStatus{models.JobStatusDelayed},
			persistence.JobUpdate{Status: models.JobStatusQueued})
		if err != nil {
			return nil, err
		}

		if job.Type == models.StepTypeDelay {
			l.record(ctx, executionlog.FromJob(job, models.DetailStepDelayFinished, models.DetailStatusSuccess))
		}
	}

	job, err = l.jobs.UpdateStatus(ctx, job.ID, queuedOnly, persistence.JobUpdate{Status: models.JobStatusRunning})
	if err != nil {
		return nil, err
	}

	l.metrics.JobTransition(string(job.Type), string(job.Status))

	return job, nil
}

// Complete finishes a running job and activates the jobs waiting on it. An empty reason records
// no detail.
func (l *Lifecycle) Complete(ctx context.Context, job *models.Job, outputs map[string]any, reason models.DetailReason) error {
	updated, err := l.jobs.UpdateStatus(ctx, job.ID, runningOnly, persistence.JobUpdate{
		Status:  models.JobStatusCompleted,
		Outputs: outputs,
	})
	if err != nil {
		return err
	}

	l.metrics.JobTransition(string(updated.Type), string(updated.Status))

	if reason != "" {
		l.record(ctx, executionlog.FromJob(updated, reason, models.DetailStatusSuccess))
	}

	return l.ActivateDependents(ctx, updated)
}

// ActivateDependents activates the pending jobs that depend on job. Dependents already moved on
// by a concurrent delivery are left alone.
func (l *Lifecycle) ActivateDependents(ctx context.Context, job *models.Job) error {
	dependents, err := l.jobs.FindDependents(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to find dependents of job %s: %w", job.ID, err)
	}

	var errs []error

	for _, dependent := range dependents {
		if dependent.Status != models.JobStatusPending {
			continue
		}

		err := l.Activate(ctx, dependent)
		if err != nil && !persistence.IsJobStatusConflict(err) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Fail records a failed run. A transient failure with attempts left is retried with exponential
// backoff; otherwise the job stays failed and its dependents are canceled.
func (l *Lifecycle) Fail(ctx context.Context, job *models.Job, cause error, transient bool) error {
	attempts := job.Attempts + 1
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}

	message := cause.Error()

	if transient && attempts < maxAttempts {
		failed, err := l.jobs.UpdateStatus(ctx, job.ID, runningOnly, persistence.JobUpdate{
			Status:   models.JobStatusFailed,
			Attempts: &attempts,
			Error:    &message,
		})
		if err != nil {
			return err
		}

		l.record(ctx, executionlog.WithRaw(
			executionlog.FromJob(failed, models.DetailStepRetry, models.DetailStatusWarning), cause))

		queued, err := l.jobs.UpdateStatus(ctx, job.ID, []models.JobStatus{models.JobStatusFailed},
			persistence.JobUpdate{Status: models.JobStatusQueued})
		if err != nil {
			return err
		}

		backoff := l.backoff(attempts)

		l.logger.InfoContext(ctx, "retrying job",
			"job_id", job.ID,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"backoff", backoff,
			"error", cause,
		)

		l.metrics.WorkerRetry(string(queue.TopicStandard))

		return l.enqueue(ctx, queued, backoff)
	}

	attempts = max(attempts, maxAttempts)

	failed, err := l.jobs.UpdateStatus(ctx, job.ID, runningOnly, persistence.JobUpdate{
		Status:   models.JobStatusFailed,
		Attempts: &attempts,
		Error:    &message,
	})
	if err != nil {
		return err
	}

	l.metrics.JobTransition(string(failed.Type), string(failed.Status))
	l.record(ctx, executionlog.WithRaw(
		executionlog.FromJob(failed, models.DetailJobFailed, models.DetailStatusFailed), cause))

	l.logger.WarnContext(ctx, "job failed",
		"job_id", job.ID,
		"transaction_id", job.TransactionID,
		"attempts", attempts,
		"error", cause,
	)

	return l.terminateDependents(ctx, failed, models.JobStatusCanceled, models.DetailStepCanceled)
}

// Skip ends a job without running it. With cascade its dependents are skipped too, otherwise
// they are activated as if the job had completed.
func (l *Lifecycle) Skip(ctx context.Context, job *models.Job, from []models.JobStatus, reason models.DetailReason, raw any, cascade bool) error {
	if from == nil {
		from = skippableNow
	}

	updated, err := l.jobs.UpdateStatus(ctx, job.ID, from, persistence.JobUpdate{Status: models.JobStatusSkipped})
	if err != nil {
		return err
	}

	l.metrics.JobTransition(string(updated.Type), string(updated.Status))
	l.record(ctx, executionlog.WithRaw(executionlog.FromJob(updated, reason, models.DetailStatusSuccess), raw))

	if cascade {
		return l.terminateDependents(ctx, updated, models.JobStatusSkipped, models.DetailStepSkipped)
	}

	return l.ActivateDependents(ctx, updated)
}

// Cancel stops a job that has not finished and every job depending on it.
func (l *Lifecycle) Cancel(ctx context.Context, job *models.Job, reason models.DetailReason) error {
	updated, err := l.jobs.UpdateStatus(ctx, job.ID, unfinished, persistence.JobUpdate{Status: models.JobStatusCanceled})
	if err != nil {
		return err
	}

	l.metrics.JobTransition(string(updated.Type), string(updated.Status))
	l.record(ctx, executionlog.FromJob(updated, reason, models.DetailStatusWarning))

	return l.terminateDependents(ctx, updated, models.JobStatusCanceled, models.DetailStepCanceled)
}

func (l *Lifecycle) terminateDependents(ctx context.Context, job *models.Job, status models.JobStatus, reason models.DetailReason) error {
	dependents, err := l.jobs.FindDependents(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to find dependents of job %s: %w", job.ID, err)
	}

	from := notStarted
	if status == models.JobStatusSkipped {
		from = []models.JobStatus{models.JobStatusPending, models.JobStatusQueued}
	}

	var errs []error

	for _, dependent := range dependents {
		updated, err := l.jobs.UpdateStatus(ctx, dependent.ID, from, persistence.JobUpdate{Status: status})
		if err != nil {
			if !persistence.IsJobStatusConflict(err) {
				errs = append(errs, err)
			}

			continue
		}

		l.metrics.JobTransition(string(updated.Type), string(updated.Status))
		l.record(ctx, executionlog.FromJob(updated, reason, models.DetailStatusWarning))

		err = l.terminateDependents(ctx, updated, status, reason)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (l *Lifecycle) enqueue(ctx context.Context, job *models.Job, delay time.Duration) error {
	msg := queue.JobMessage{
		JobID:          job.ID,
		EnvironmentID:  job.EnvironmentID,
		OrganizationID: job.OrganizationID,
		TransactionID:  job.TransactionID,
		SubscriberID:   job.SubscriberID,
	}

	var opts []queue.EnqueueOption
	if delay > 0 {
		opts = append(opts, queue.WithDelay(delay))
	}

	err := queue.EnqueueJSON(ctx, l.queue, queue.TopicStandard, job.TransactionID, msg, opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	return nil
}

func (l *Lifecycle) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := l.retryBackoff
	for i := 1; i < attempt && backoff < maxRetryBackoff; i++ {
		backoff *= 2
	}

	return min(backoff, maxRetryBackoff)
}

// record writes a detail. The trail is best effort: a failed write is logged, never returned.
func (l *Lifecycle) record(ctx context.Context, detail *models.ExecutionDetail) {
	err := l.details.Create(ctx, detail)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to record execution detail",
			"detail", detail.Detail,
			"job_id", detail.JobID,
			"transaction_id", detail.TransactionID,
			"error", err,
		)
	}
}
