package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/novu-co/novu-sub003/pkg/cache"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

// DigestDecision tells what happened to an event handed to the digester.
type DigestDecision int

const (
	// DigestOpened means the job became the open digest for its key.
	DigestOpened DigestDecision = iota
	// DigestMerged means the event joined the digest already open for its key.
	DigestMerged
	// DigestBackoffSkipped means no event arrived within the look back window, so the event is
	// sent on its own without waiting.
	DigestBackoffSkipped
)

func (d DigestDecision) String() string {
	switch d {
	case DigestOpened:
		return "opened"
	case DigestMerged:
		return "merged"
	case DigestBackoffSkipped:
		return "backoff_skipped"
	default:
		return "unknown"
	}
}

// Digester batches events of the same digest key into a single delayed job. The window is fixed
// from the event that opened the digest; later events only join it.
type Digester struct {
	jobs   persistence.JobRepository
	cache  cache.Cache
	now    func() time.Time
	logger *slog.Logger
}

func NewDigester(jobs persistence.JobRepository, c cache.Cache, logger *slog.Logger) *Digester {
	return &Digester{
		jobs:   jobs,
		cache:  c,
		now:    time.Now,
		logger: logger.With("module", "digester"),
	}
}

// NewJobDigest builds the digest state of a digest job from its step and the triggering event.
func NewJobDigest(step *models.Step, subscriberID string, payload map[string]any) *models.JobDigest {
	event := maps.Clone(payload)
	if event == nil {
		event = map[string]any{}
	}

	return &models.JobDigest{
		Amount:         step.Metadata.Amount,
		Unit:           step.Metadata.Unit,
		DigestKey:      step.Metadata.DigestKey,
		DigestValue:    DigestValue(subscriberID, step.Metadata.DigestKey, payload),
		LookBackWindow: step.Metadata.LookBackWindow,
		Events:         []map[string]any{event},
	}
}

// DigestValue is the aggregation key of a digest: the subscriber id, followed by the payload
// value at digestKey when the step declares one.
func DigestValue(subscriberID, digestKey string, payload map[string]any) string {
	if digestKey == "" {
		return subscriberID
	}

	value, ok := PayloadValue(payload, digestKey)
	if !ok {
		return subscriberID
	}

	return fmt.Sprintf("%s:%v", subscriberID, value)
}

// PayloadValue resolves a dotted path inside the payload. A leading "payload." is ignored.
func PayloadValue(payload map[string]any, path string) (any, bool) {
	path = strings.TrimPrefix(path, "payload.")

	var current any = payload

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, current != nil
}

// Schedule places the digest job of one event. A stored job is still pending and is either
// promoted to the open digest or merged into it; an unstored candidate is created as the open
// digest only when none exists.
func (d *Digester) Schedule(ctx context.Context, job *models.Job, stored bool) (DigestDecision, *models.Job, error) {
	if job.Digest == nil {
		job.Digest = NewJobDigest(&job.Step, job.SubscriberID, job.Payload)
	}

	window, err := job.Step.Metadata.Window()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: digest window of step %s: %w", ErrInvalidStepMetadata, job.StepID, err)
	}

	if job.Digest.LookBackWindow != nil {
		quiet, err := d.quietPeriod(ctx, job)
		if err != nil {
			return 0, nil, err
		}

		if quiet {
			return DigestBackoffSkipped, job, nil
		}
	}

	scheduledAt := d.now().UTC().Add(window)

	if stored {
		digest, opened, err := d.jobs.ActivateDigest(ctx, job, scheduledAt)
		if err != nil {
			return 0, nil, err
		}

		return decision(opened), digest, nil
	}

	job.Status = models.JobStatusDelayed
	job.ScheduledAt = &scheduledAt

	digest, created, err := d.jobs.FindOrCreateDigest(ctx, job)
	if err != nil {
		return 0, nil, err
	}

	return decision(created), digest, nil
}

// quietPeriod reports whether no event of this digest key arrived within the look back window.
// Each event refreshes the marker, so a steady stream keeps digesting.
func (d *Digester) quietPeriod(ctx context.Context, job *models.Job) (bool, error) {
	lookBack, err := job.Digest.LookBackWindow.Duration()
	if err != nil {
		return false, fmt.Errorf("%w: look back window of step %s: %w", ErrInvalidStepMetadata, job.StepID, err)
	}

	if lookBack <= 0 {
		return false, nil
	}

	key := backoffKey(job)

	set, err := d.cache.SetNX(ctx, key, job.ID, lookBack)
	if err != nil {
		d.logger.WarnContext(ctx, "digest backoff check failed, digesting", "job_id", job.ID, "error", err)

		return false, nil
	}

	if set {
		return true, nil
	}

	err = d.cache.Set(ctx, key, job.ID, lookBack)
	if err != nil {
		d.logger.WarnContext(ctx, "failed to refresh digest backoff marker", "job_id", job.ID, "error", err)
	}

	return false, nil
}

func backoffKey(job *models.Job) string {
	return fmt.Sprintf("digest:backoff:%s:%s:%s:%s", job.EnvironmentID, job.WorkflowID, job.StepID, job.Digest.DigestValue)
}

func decision(opened bool) DigestDecision {
	if opened {
		return DigestOpened
	}

	return DigestMerged
}

// DigestOutputs is what a fired digest exposes to the steps after it.
func DigestOutputs(job *models.Job) map[string]any {
	var events []map[string]any
	if job.Digest != nil {
		events = job.Digest.Events
	}

	list := make([]any, 0, len(events))
	for _, event := range events {
		list = append(list, event)
	}

	return map[string]any{
		"events":     list,
		"eventCount": len(events),
		"totalCount": len(events),
	}
}
