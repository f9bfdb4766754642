// Package postgres implements the job repository on PostgreSQL. Every state
// transition is a single guarded UPDATE so status and lease fields always
// change together; the claim path relies on FOR UPDATE SKIP LOCKED so
// concurrent workers never hand the same job to two owners.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Ensure jobStore implements jobs.JobRepository at compile time.
var _ jobs.JobRepository = (*jobStore)(nil)

// jobStore implements jobs.JobRepository using Postgres. It provides the
// durable queue and single source of truth for job state transitions.
type jobStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a JobRepository backed by PostgreSQL.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{pool: pool, tracer: tracer}
}

const jobColumns = `job_id, job_type, scope_id, status, payload_ref, processed, total,
	result, retry_count, priority, lease_owner, lease_expires_at,
	created_at, started_at, completed_at, error_message`

// Create persists a newly admitted job in PENDING.
func (s *jobStore) Create(ctx context.Context, job *jobs.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.ID().String()),
		attribute.String("job_type", job.Type().String()),
		attribute.String("scope_id", job.ScopeID()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_job", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO jobs (job_id, job_type, scope_id, status, payload_ref, processed, total, retry_count, priority, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			pgUUID(job.ID()),
			job.Type().String(),
			job.ScopeID(),
			job.Status().String(),
			job.PayloadRef(),
			job.Progress().Processed,
			job.Progress().Total,
			job.RetryCount(),
			job.Priority(),
			job.CreatedAt(),
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

// Get returns the job with its attempt history, or jobs.ErrJobNotFound.
func (s *jobStore) Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	var job *jobs.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, pgUUID(id))

		var err error
		job, err = scanJob(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return jobs.ErrJobNotFound
			}
			return fmt.Errorf("query job: %w", err)
		}

		attempts, err := s.loadAttempts(ctx, id)
		if err != nil {
			return err
		}
		if len(attempts) > 0 {
			job = withAttempts(job, attempts)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListByScope returns the most recent jobs for a scope, newest first.
func (s *jobStore) ListByScope(ctx context.Context, scopeID string, limit int) ([]*jobs.Job, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("scope_id", scopeID))

	var out []*jobs.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_jobs_by_scope", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE scope_id = $1
			ORDER BY created_at DESC
			LIMIT $2`,
			scopeID, limit,
		)
		if err != nil {
			return fmt.Errorf("query jobs by scope: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return fmt.Errorf("scan job row: %w", err)
			}
			out = append(out, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNext atomically claims the next PENDING job for the worker. The inner
// SELECT uses FOR UPDATE SKIP LOCKED so concurrent claimers never block on or
// double-claim the same row; the UPDATE installs status and lease fields in
// the same write.
func (s *jobStore) ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (*jobs.Job, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("worker_id", workerID))

	var job *jobs.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.claim_next_job", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			WITH next AS (
				SELECT job_id FROM jobs
				WHERE status = 'PENDING'
				ORDER BY priority, created_at
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			UPDATE jobs j SET
				status = 'PROCESSING',
				lease_owner = $1,
				lease_expires_at = now() + make_interval(secs => $2),
				started_at = COALESCE(j.started_at, now())
			FROM next
			WHERE j.job_id = next.job_id
			RETURNING `+prefixedJobColumns("j"),
			workerID, leaseFor.Seconds(),
		)

		var err error
		job, err = scanJob(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return jobs.ErrNoPendingJobs
			}
			return fmt.Errorf("claim next job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Claim atomically claims a specific PENDING job for the worker. Used by
// synchronous submissions that process inline.
func (s *jobStore) Claim(ctx context.Context, id uuid.UUID, workerID string, leaseFor time.Duration) (*jobs.Job, error) {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("job_id", id.String()),
		attribute.String("worker_id", workerID),
	)

	var job *jobs.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.claim_job", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'PROCESSING',
				lease_owner = $2,
				lease_expires_at = now() + make_interval(secs => $3),
				started_at = COALESCE(started_at, now())
			WHERE job_id = $1 AND status = 'PENDING'
			RETURNING `+jobColumns,
			pgUUID(id), workerID, leaseFor.Seconds(),
		)

		var err error
		job, err = scanJob(row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("claim job: %w", err)
		}

		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s", jobs.ErrInvalidTransition, current.Status(), jobs.JobStatusProcessing)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RenewLease extends the worker's lease. The guard on status and lease owner
// means a worker that lost its job (requeue, cancel) gets ErrLeaseLost here.
func (s *jobStore) RenewLease(ctx context.Context, id uuid.UUID, workerID string, leaseFor time.Duration) error {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("job_id", id.String()),
		attribute.String("worker_id", workerID),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.renew_job_lease", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE jobs SET lease_expires_at = now() + make_interval(secs => $3)
			WHERE job_id = $1 AND status = 'PROCESSING' AND lease_owner = $2`,
			pgUUID(id), workerID, leaseFor.Seconds(),
		)
		if err != nil {
			return fmt.Errorf("renew lease: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrLeaseLost
		}
		return nil
	})
}

// Requeue returns a PROCESSING job the worker owns to PENDING, clearing the
// lease in the same write. Used when inline execution aborts so the pool can
// pick the job up without waiting for the lease to expire.
func (s *jobStore) Requeue(ctx context.Context, id uuid.UUID, workerID string) error {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("job_id", id.String()),
		attribute.String("worker_id", workerID),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.requeue_job", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE jobs SET
				status = 'PENDING',
				lease_owner = NULL,
				lease_expires_at = NULL
			WHERE job_id = $1 AND status = 'PROCESSING' AND lease_owner = $2`,
			pgUUID(id), workerID,
		)
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrLeaseLost
		}
		return nil
	})
}

// UpdateProgress persists forward progress for the owning worker. The guard
// keeps it monotonic and bounded by the immutable total.
func (s *jobStore) UpdateProgress(ctx context.Context, id uuid.UUID, workerID string, processed int) error {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("job_id", id.String()),
		attribute.Int("processed", processed),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_job_progress", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE jobs SET processed = $3
			WHERE job_id = $1 AND status = 'PROCESSING' AND lease_owner = $2
			  AND processed <= $3 AND $3 <= total`,
			pgUUID(id), workerID, processed,
		)
		if err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrLeaseLost
		}
		return nil
	})
}

// Complete transitions the job to COMPLETED with its result. Guarded by lease
// ownership so a worker that lost its lease cannot clobber a requeued or
// cancelled job.
func (s *jobStore) Complete(ctx context.Context, id uuid.UUID, workerID string, result jobs.Result) error {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("job_id", id.String()),
		attribute.Int("success_count", result.SuccessCount),
		attribute.Int("failure_count", result.FailureCount),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.complete_job", dbAttrs, func(ctx context.Context) error {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE jobs SET
				status = 'COMPLETED',
				result = $3,
				processed = $4,
				completed_at = now(),
				lease_owner = NULL,
				lease_expires_at = NULL
			WHERE job_id = $1 AND status = 'PROCESSING' AND lease_owner = $2`,
			pgUUID(id), workerID, resultJSON, result.SuccessCount+result.FailureCount,
		)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrLeaseLost
		}
		return nil
	})
}

// Fail transitions the job to FAILED with a systemic error message. Guarded
// by lease ownership.
func (s *jobStore) Fail(ctx context.Context, id uuid.UUID, workerID string, errMsg string, partial *jobs.Result) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.fail_job", dbAttrs, func(ctx context.Context) error {
		var resultJSON []byte
		if partial != nil {
			var err error
			resultJSON, err = json.Marshal(partial)
			if err != nil {
				return fmt.Errorf("marshal partial result: %w", err)
			}
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE jobs SET
				status = 'FAILED',
				error_message = $3,
				result = $4,
				completed_at = now(),
				lease_owner = NULL,
				lease_expires_at = NULL
			WHERE job_id = $1 AND status = 'PROCESSING' AND lease_owner = $2`,
			pgUUID(id), workerID, errMsg, resultJSON,
		)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrLeaseLost
		}
		return nil
	})
}

// Cancel transitions a PENDING or PROCESSING job to CANCELLED, clearing the
// lease in the same write so the owning worker's next guarded write fails.
// Cancelling an already-cancelled job is a successful no-op.
func (s *jobStore) Cancel(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	var job *jobs.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.cancel_job", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'CANCELLED',
				completed_at = now(),
				lease_owner = NULL,
				lease_expires_at = NULL
			WHERE job_id = $1 AND status IN ('PENDING', 'PROCESSING')
			RETURNING `+jobColumns,
			pgUUID(id),
		)

		var err error
		job, err = scanJob(row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("cancel job: %w", err)
		}

		// No transition happened: either the job doesn't exist, is already
		// cancelled (idempotent success), or is in another terminal state.
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if current.Status() == jobs.JobStatusCancelled {
			job = current
			return nil
		}
		return fmt.Errorf("%w: %s -> %s", jobs.ErrInvalidTransition, current.Status(), jobs.JobStatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Retry re-admits a FAILED or CANCELLED job in a transaction: the prior
// attempt is archived into job_attempts before the job row resets, so a retry
// never loses earlier failure diagnostics.
func (s *jobStore) Retry(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	var job *jobs.Job
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.retry_job", dbAttrs, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin retry tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 FOR UPDATE`, pgUUID(id))
		current, err := scanJob(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return jobs.ErrJobNotFound
			}
			return fmt.Errorf("lock job for retry: %w", err)
		}

		status := current.Status()
		if status != jobs.JobStatusFailed && status != jobs.JobStatusCancelled {
			return fmt.Errorf("%w: cannot retry job in %s", jobs.ErrInvalidTransition, status)
		}

		var resultJSON []byte
		if current.Result() != nil {
			resultJSON, err = json.Marshal(current.Result())
			if err != nil {
				return fmt.Errorf("marshal archived result: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO job_attempts (job_id, attempt_number, status, result, error_message, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pgUUID(id), current.RetryCount()+1, status.String(), resultJSON,
			nullString(current.ErrorMessage()), nullTime(current.CompletedAt()),
		); err != nil {
			return fmt.Errorf("archive attempt: %w", err)
		}

		row = tx.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'PENDING',
				retry_count = retry_count + 1,
				processed = 0,
				result = NULL,
				error_message = NULL,
				started_at = NULL,
				completed_at = NULL,
				lease_owner = NULL,
				lease_expires_at = NULL
			WHERE job_id = $1
			RETURNING `+jobColumns,
			pgUUID(id),
		)
		job, err = scanJob(row)
		if err != nil {
			return fmt.Errorf("reset job for retry: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit retry tx: %w", err)
		}

		attempts, err := s.loadAttempts(ctx, id)
		if err != nil {
			return err
		}
		job = withAttempts(job, attempts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RequeueExpired returns every PROCESSING job whose lease expired before now
// to PENDING. The retry counter is untouched: a lease-loss requeue is not a
// retry attempt.
func (s *jobStore) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	var requeued int
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.requeue_expired_jobs", defaultDBAttributes, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE jobs SET
				status = 'PENDING',
				lease_owner = NULL,
				lease_expires_at = NULL
			WHERE status = 'PROCESSING' AND lease_expires_at < $1`,
			now,
		)
		if err != nil {
			return fmt.Errorf("requeue expired jobs: %w", err)
		}
		requeued = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return requeued, nil
}

func (s *jobStore) loadAttempts(ctx context.Context, id uuid.UUID) ([]jobs.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT attempt_number, status, result, error_message, ended_at
		FROM job_attempts WHERE job_id = $1
		ORDER BY attempt_number`,
		pgUUID(id),
	)
	if err != nil {
		return nil, fmt.Errorf("query job attempts: %w", err)
	}
	defer rows.Close()

	var attempts []jobs.Attempt
	for rows.Next() {
		var (
			attempt    jobs.Attempt
			status     string
			resultJSON []byte
			errMsg     pgtype.Text
			endedAt    pgtype.Timestamptz
		)
		if err := rows.Scan(&attempt.Number, &status, &resultJSON, &errMsg, &endedAt); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		attempt.Status = jobs.ParseJobStatus(status)
		if len(resultJSON) > 0 {
			var r jobs.Result
			if err := json.Unmarshal(resultJSON, &r); err == nil {
				attempt.Result = &r
			}
		}
		if errMsg.Valid {
			attempt.ErrorMessage = errMsg.String
		}
		if endedAt.Valid {
			t := endedAt.Time
			attempt.EndedAt = &t
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}
