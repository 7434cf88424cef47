package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

const jobColumns = `
	id
  , type
  , status
  , environment_id
  , organization_id
  , user_id
  , notification_id
  , transaction_id
  , workflow_id
  , workflow_identifier
  , step_id
  , step
  , subscriber_id
  , provider_id
  , depends_on
  , payload
  , overrides
  , tenant
  , actor
  , bridge_url
  , digest
  , outputs
  , attempts
  , max_attempts
  , error
  , scheduled_at
  , created_at
  , updated_at`

const insertJobQuery = `
	INSERT INTO jobs (id, type, status, environment_id, organization_id, user_id, notification_id,
		transaction_id, workflow_id, workflow_identifier, step_id, step, subscriber_id, provider_id,
		depends_on, payload, overrides, tenant, actor, bridge_url, digest, digest_value, outputs,
		attempts, max_attempts, error, scheduled_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		$20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`

// JobRepository handles job-related database operations.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

// CreateBatch inserts all jobs in one transaction.
func (r *JobRepository) CreateBatch(ctx context.Context, jobs []*models.Job) (err error) {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	for _, job := range jobs {
		if job.ID == "" {
			job.ID, err = persistence.NewID()
			if err != nil {
				return err
			}
		}

		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}

		job.UpdatedAt = now

		var args []any

		args, err = jobArgs(job)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, insertJobQuery, args...)
		if err != nil {
			return persistence.NewJobError("CreateBatch", job.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return job, nil
}

// UpdateStatus is a single conditional UPDATE so concurrent workers cannot both win a transition.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, from []models.JobStatus, update persistence.JobUpdate) (*models.Job, error) {
	var (
		outputsJSON   any
		digestJSON    any
		digestValue   any
		errorMessage  any
		attempts      any
		scheduledAt   any
		err           error
	)

	if update.Outputs != nil {
		outputsJSON, err = json.Marshal(update.Outputs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal outputs: %w", err)
		}
	}

	if update.Digest != nil {
		digestJSON, err = json.Marshal(update.Digest)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal digest: %w", err)
		}

		digestValue = update.Digest.DigestValue
	}

	if update.Error != nil {
		errorMessage = *update.Error
	}

	if update.Attempts != nil {
		attempts = *update.Attempts
	}

	if update.ScheduledAt != nil {
		scheduledAt = *update.ScheduledAt
	}

	statuses := make([]string, len(from))
	for i, status := range from {
		statuses[i] = string(status)
	}

	query := `
		UPDATE jobs SET
			status = $2,
			outputs = COALESCE($3, outputs),
			digest = COALESCE($4, digest),
			digest_value = COALESCE($5, digest_value),
			error = COALESCE($6, error),
			attempts = COALESCE($7, attempts),
			scheduled_at = COALESCE($8, scheduled_at),
			updated_at = $9
		WHERE id = $1 AND status = ANY($10)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query,
		id,
		update.Status,
		outputsJSON,
		digestJSON,
		digestValue,
		errorMessage,
		attempts,
		scheduledAt,
		time.Now().UTC(),
		pq.Array(statuses),
	))
	if err == nil {
		return job, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewJobError("UpdateStatus", id, err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return nil, persistence.NewJobError("UpdateStatus", id,
		fmt.Errorf("status is %s: %w", current.Status, persistence.ErrJobStatusConflict))
}

func (r *JobRepository) FindDependents(ctx context.Context, jobID string) ([]*models.Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE depends_on = $1 ORDER BY created_at, id`, jobID)
}

func (r *JobRepository) FindByTransaction(ctx context.Context, environmentID, transactionID string) ([]*models.Job, error) {
	return r.query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE environment_id = $1 AND transaction_id = $2 ORDER BY created_at, id`,
		environmentID, transactionID)
}

func (r *JobRepository) ExistsForSubscriber(ctx context.Context, environmentID, transactionID, subscriberID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE environment_id = $1 AND transaction_id = $2 AND subscriber_id = $3)`,
		environmentID, transactionID, subscriberID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check jobs for subscriber: %w", err)
	}

	return exists, nil
}

// FindOrCreateDigest upserts against the partial unique index on open digests.
func (r *JobRepository) FindOrCreateDigest(ctx context.Context, candidate *models.Job) (*models.Job, bool, error) {
	if candidate.Digest == nil {
		return nil, false, fmt.Errorf("job %s carries no digest metadata", candidate.ID)
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

	args, err := jobArgs(candidate)
	if err != nil {
		return nil, false, err
	}

	query := insertJobQuery + `
		ON CONFLICT (environment_id, workflow_id, step_id, digest_value) WHERE type = 'digest' AND status = 'delayed'
		DO UPDATE SET
			digest = jsonb_set(jobs.digest, '{events}',
				COALESCE(jobs.digest->'events', '[]'::jsonb) || COALESCE(EXCLUDED.digest->'events', '[]'::jsonb)),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + jobColumns + `, (xmax = 0) AS inserted`

	var inserted bool

	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...), &inserted)
	if err != nil {
		return nil, false, persistence.NewJobError("FindOrCreateDigest", candidate.ID, err)
	}

	return job, inserted, nil
}

func (r *JobRepository) ActivateDigest(ctx context.Context, job *models.Job, scheduledAt time.Time) (*models.Job, bool, error) {
	if job.Digest == nil {
		return nil, false, fmt.Errorf("job %s carries no digest metadata", job.ID)
	}

	// a concurrent activation may take the open slot between our merge attempt and our own
	// activation; the second round then merges into it
	for range 2 {
		open, activated, err := r.activateDigest(ctx, job, scheduledAt)
		if err != nil && isUniqueViolation(err) {
			continue
		}

		return open, activated, err
	}

	return nil, false, persistence.NewJobError("ActivateDigest", job.ID, persistence.ErrJobStatusConflict)
}

func (r *JobRepository) activateDigest(ctx context.Context, job *models.Job, scheduledAt time.Time) (_ *models.Job, _ bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status string

	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, job.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, persistence.NewJobError("ActivateDigest", job.ID, persistence.ErrJobNotFound)
		}

		return nil, false, fmt.Errorf("failed to lock job: %w", err)
	}

	if models.JobStatus(status) != models.JobStatusPending {
		err = persistence.NewJobError("ActivateDigest", job.ID, fmt.Errorf("status is %s: %w", status, persistence.ErrJobStatusConflict))

		return nil, false, err
	}

	eventsJSON, err := json.Marshal(job.Digest.Events)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal digest events: %w", err)
	}

	mergeQuery := `
		UPDATE jobs SET
			digest = jsonb_set(digest, '{events}', COALESCE(digest->'events', '[]'::jsonb) || $6::jsonb),
			updated_at = $7
		WHERE type = 'digest' AND status = 'delayed'
			AND environment_id = $1 AND workflow_id = $2 AND step_id = $3 AND digest_value = $4 AND id <> $5
		RETURNING ` + jobColumns

	open, err := scanJob(tx.QueryRowContext(ctx, mergeQuery,
		job.EnvironmentID, job.WorkflowID, job.StepID, job.Digest.DigestValue, job.ID, string(eventsJSON), time.Now().UTC()))
	if err == nil {
		err = tx.Commit()
		if err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}

		return open, false, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to merge digest events: %w", err)
	}

	digestJSON, err := json.Marshal(job.Digest)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal digest: %w", err)
	}

	activateQuery := `
		UPDATE jobs SET status = $2, digest = $3, digest_value = $4, scheduled_at = $5, updated_at = $6
		WHERE id = $1
		RETURNING ` + jobColumns

	activated, err := scanJob(tx.QueryRowContext(ctx, activateQuery,
		job.ID, models.JobStatusDelayed, digestJSON, job.Digest.DigestValue, scheduledAt, time.Now().UTC()))
	if err != nil {
		return nil, false, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return activated, true, nil
}

func (r *JobRepository) query(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func jobArgs(job *models.Job) ([]any, error) {
	fields := map[string]any{
		"step":      job.Step,
		"payload":   job.Payload,
		"overrides": job.Overrides,
		"tenant":    job.Tenant,
		"actor":     job.Actor,
		"digest":    job.Digest,
		"outputs":   job.Outputs,
	}

	encoded := make(map[string][]byte, len(fields))

	for name, value := range fields {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job %s: %w", name, err)
		}

		encoded[name] = data
	}

	var digestValue sql.NullString
	if job.Digest != nil {
		digestValue = sql.NullString{String: job.Digest.DigestValue, Valid: true}
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}

	return []any{
		job.ID,
		job.Type,
		job.Status,
		job.EnvironmentID,
		job.OrganizationID,
		nullString(job.UserID),
		job.NotificationID,
		job.TransactionID,
		job.WorkflowID,
		job.WorkflowIdentifier,
		job.StepID,
		encoded["step"],
		job.SubscriberID,
		nullString(job.ProviderID),
		nullString(job.DependsOn),
		encoded["payload"],
		encoded["overrides"],
		encoded["tenant"],
		encoded["actor"],
		nullString(job.BridgeURL),
		encoded["digest"],
		digestValue,
		encoded["outputs"],
		job.Attempts,
		maxAttempts,
		nullString(job.Error),
		job.ScheduledAt,
		job.CreatedAt,
		job.UpdatedAt,
	}, nil
}

// scanJob reads the jobColumns projection; extra destinations are scanned after it.
func scanJob(row scanner, extra ...any) (*models.Job, error) {
	var (
		job           models.Job
		userID        sql.NullString
		providerID    sql.NullString
		dependsOn     sql.NullString
		bridgeURL     sql.NullString
		errorMessage  sql.NullString
		scheduledAt   sql.NullTime
		stepJSON      []byte
		payloadJSON   []byte
		overridesJSON []byte
		tenantJSON    []byte
		actorJSON     []byte
		digestJSON    []byte
		outputsJSON   []byte
	)

	dest := []any{
		&job.ID,
		&job.Type,
		&job.Status,
		&job.EnvironmentID,
		&job.OrganizationID,
		&userID,
		&job.NotificationID,
		&job.TransactionID,
		&job.WorkflowID,
		&job.WorkflowIdentifier,
		&job.StepID,
		&stepJSON,
		&job.SubscriberID,
		&providerID,
		&dependsOn,
		&payloadJSON,
		&overridesJSON,
		&tenantJSON,
		&actorJSON,
		&bridgeURL,
		&digestJSON,
		&outputsJSON,
		&job.Attempts,
		&job.MaxAttempts,
		&errorMessage,
		&scheduledAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	}

	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	for target, data := range map[any][]byte{
		&job.Step:      stepJSON,
		&job.Payload:   payloadJSON,
		&job.Overrides: overridesJSON,
		&job.Tenant:    tenantJSON,
		&job.Actor:     actorJSON,
		&job.Digest:    digestJSON,
		&job.Outputs:   outputsJSON,
	} {
		if err := unmarshalJSON(data, target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job %s: %w", job.ID, err)
		}
	}

	job.UserID = userID.String
	job.ProviderID = providerID.String
	job.DependsOn = dependsOn.String
	job.BridgeURL = bridgeURL.String
	job.Error = errorMessage.String

	if scheduledAt.Valid {
		scheduled := scheduledAt.Time
		job.ScheduledAt = &scheduled
	}

	return &job, nil
}
