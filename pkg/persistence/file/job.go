package file

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

// JobRepository handles job-related file operations.
type JobRepository struct {
	store *store[models.Job]
	mu    *sync.RWMutex
}

func NewJobRepository(root string, mu *sync.RWMutex) *JobRepository {
	return &JobRepository{store: newStore[models.Job](root, "jobs"), mu: mu}
}

// CreateBatch writes every job, removing the ones already written when a later write fails.
func (jr *JobRepository) CreateBatch(_ context.Context, jobs []*models.Job) error {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	now := time.Now().UTC()

	for _, job := range jobs {
		if job.ID == "" {
			id, err := persistence.NewID()
			if err != nil {
				return err
			}

			job.ID = id
		}

		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}

		job.UpdatedAt = now
	}

	written := make([]string, 0, len(jobs))

	for _, job := range jobs {
		err := jr.store.save(job.ID, job)
		if err != nil {
			for _, id := range written {
				_ = jr.store.remove(id)
			}

			return persistence.NewJobError("CreateBatch", job.ID, err)
		}

		written = append(written, job.ID)
	}

	return nil
}

func (jr *JobRepository) GetByID(_ context.Context, id string) (*models.Job, error) {
	jr.mu.RLock()
	defer jr.mu.RUnlock()

	return jr.get(id)
}

func (jr *JobRepository) get(id string) (*models.Job, error) {
	job, err := jr.store.load(id)
	if err != nil {
		return nil, persistence.NewJobError("GetByID", id, err)
	}

	if job == nil {
		return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
	}

	return job, nil
}

func (jr *JobRepository) UpdateStatus(_ context.Context, id string, from []models.JobStatus, update persistence.JobUpdate) (*models.Job, error) {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	job, err := jr.get(id)
	if err != nil {
		return nil, err
	}

	if !persistence.StatusIn(job.Status, from) {
		return nil, persistence.NewJobError("UpdateStatus", id,
			fmt.Errorf("status is %s: %w", job.Status, persistence.ErrJobStatusConflict))
	}

	update.Apply(job, time.Now().UTC())

	err = jr.store.save(id, job)
	if err != nil {
		return nil, persistence.NewJobError("UpdateStatus", id, err)
	}

	return job, nil
}

func (jr *JobRepository) FindDependents(_ context.Context, jobID string) ([]*models.Job, error) {
	jr.mu.RLock()
	defer jr.mu.RUnlock()

	jobs, err := jr.store.filter(func(j *models.Job) bool { return j.DependsOn == jobID })
	if err != nil {
		return nil, err
	}

	sortJobs(jobs)

	return jobs, nil
}

func (jr *JobRepository) FindByTransaction(_ context.Context, environmentID, transactionID string) ([]*models.Job, error) {
	jr.mu.RLock()
	defer jr.mu.RUnlock()

	jobs, err := jr.store.filter(func(j *models.Job) bool {
		return j.EnvironmentID == environmentID && j.TransactionID == transactionID
	})
	if err != nil {
		return nil, err
	}

	sortJobs(jobs)

	return jobs, nil
}

func (jr *JobRepository) ExistsForSubscriber(_ context.Context, environmentID, transactionID, subscriberID string) (bool, error) {
	jr.mu.RLock()
	defer jr.mu.RUnlock()

	job, err := jr.store.first(func(j *models.Job) bool {
		return j.EnvironmentID == environmentID && j.TransactionID == transactionID && j.SubscriberID == subscriberID
	})
	if err != nil {
		return false, err
	}

	return job != nil, nil
}

func (jr *JobRepository) FindOrCreateDigest(_ context.Context, candidate *models.Job) (*models.Job, bool, error) {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	open, err := jr.openDigest(candidate)
	if err != nil {
		return nil, false, err
	}

	if open != nil {
		merged, err := jr.appendEvents(open, candidate.Digest.Events)
		if err != nil {
			return nil, false, err
		}

		return merged, false, nil
	}

	now := time.Now().UTC()

	if candidate.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return nil, false, err
		}

		candidate.ID = id
	}

	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = now
	}

	candidate.UpdatedAt = now

	err = jr.store.save(candidate.ID, candidate)
	if err != nil {
		return nil, false, persistence.NewJobError("FindOrCreateDigest", candidate.ID, err)
	}

	return candidate, true, nil
}

func (jr *JobRepository) ActivateDigest(_ context.Context, job *models.Job, scheduledAt time.Time) (*models.Job, bool, error) {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	stored, err := jr.get(job.ID)
	if err != nil {
		return nil, false, err
	}

	if stored.Status != models.JobStatusPending {
		return nil, false, persistence.NewJobError("ActivateDigest", job.ID,
			fmt.Errorf("status is %s: %w", stored.Status, persistence.ErrJobStatusConflict))
	}

	probe := *job
	probe.ID = stored.ID

	open, err := jr.openDigest(&probe)
	if err != nil {
		return nil, false, err
	}

	if open != nil {
		merged, err := jr.appendEvents(open, job.Digest.Events)
		if err != nil {
			return nil, false, err
		}

		return merged, false, nil
	}

	persistence.JobUpdate{
		Status:      models.JobStatusDelayed,
		Digest:      job.Digest,
		ScheduledAt: &scheduledAt,
	}.Apply(stored, time.Now().UTC())

	err = jr.store.save(stored.ID, stored)
	if err != nil {
		return nil, false, persistence.NewJobError("ActivateDigest", job.ID, err)
	}

	return stored, true, nil
}

func (jr *JobRepository) openDigest(candidate *models.Job) (*models.Job, error) {
	if candidate.Digest == nil {
		return nil, fmt.Errorf("job %s carries no digest metadata", candidate.ID)
	}

	return jr.store.first(func(j *models.Job) bool {
		return j.ID != candidate.ID &&
			j.Type == models.StepTypeDigest &&
			j.Status == models.JobStatusDelayed &&
			j.EnvironmentID == candidate.EnvironmentID &&
			j.WorkflowID == candidate.WorkflowID &&
			j.StepID == candidate.StepID &&
			j.Digest != nil && j.Digest.DigestValue == candidate.Digest.DigestValue
	})
}

func (jr *JobRepository) appendEvents(open *models.Job, events []map[string]any) (*models.Job, error) {
	open.Digest.Events = append(slices.Clone(open.Digest.Events), events...)
	open.UpdatedAt = time.Now().UTC()

	err := jr.store.save(open.ID, open)
	if err != nil {
		return nil, persistence.NewJobError("AppendDigestEvents", open.ID, err)
	}

	return open, nil
}

func sortJobs(jobs []*models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}

		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
