package jobs

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// JobRepository is the durable record of job metadata, status, progress, and
// results; it is the single source of truth for state transitions. Every
// transition must be persisted as a single atomic write of status and lease
// fields together so two workers can never both believe they own a job.
type JobRepository interface {
	// Create persists a newly admitted job in PENDING.
	Create(ctx context.Context, job *Job) error

	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// ListByScope returns the most recent jobs for a scope, newest first.
	ListByScope(ctx context.Context, scopeID string, limit int) ([]*Job, error)

	// ClaimNext atomically claims the next PENDING job (lowest priority value
	// first, oldest first within a priority) for the worker, transitioning it
	// to PROCESSING with a lease. Returns ErrNoPendingJobs when the queue is
	// empty. The claim is a single compare-and-set, never a read-then-write
	// pair.
	ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (*Job, error)

	// Claim atomically claims a specific PENDING job for the worker, using the
	// same compare-and-set as ClaimNext. Used for synchronous submissions that
	// process inline instead of waiting for the pool. Returns
	// ErrInvalidTransition if the job is not PENDING.
	Claim(ctx context.Context, id uuid.UUID, workerID string, leaseFor time.Duration) (*Job, error)

	// RenewLease extends the worker's lease on a job it owns. Returns
	// ErrLeaseLost if the job is no longer PROCESSING under this worker.
	RenewLease(ctx context.Context, id uuid.UUID, workerID string, leaseFor time.Duration) error

	// Requeue returns a PROCESSING job the worker owns to PENDING, clearing
	// the lease so the pool can claim it immediately instead of waiting for
	// the lease to expire. Returns ErrLeaseLost if the job is no longer
	// PROCESSING under this worker.
	Requeue(ctx context.Context, id uuid.UUID, workerID string) error

	// UpdateProgress persists forward progress for the owning worker.
	UpdateProgress(ctx context.Context, id uuid.UUID, workerID string, processed int) error

	// Complete transitions the job to COMPLETED with its result. Guarded by
	// lease ownership so a stale requeue can never be overwritten by a
	// terminal write from a worker that lost its lease, and vice versa.
	Complete(ctx context.Context, id uuid.UUID, workerID string, result Result) error

	// Fail transitions the job to FAILED with a systemic error message.
	// Guarded by lease ownership.
	Fail(ctx context.Context, id uuid.UUID, workerID string, errMsg string, partial *Result) error

	// Cancel transitions a PENDING or PROCESSING job to CANCELLED. Cancelling
	// an already-cancelled job succeeds and leaves state unchanged;
	// cancelling a COMPLETED or FAILED job returns ErrInvalidTransition.
	Cancel(ctx context.Context, id uuid.UUID) (*Job, error)

	// Retry re-admits a FAILED or CANCELLED job: retry count increments,
	// progress resets, and the prior result moves into the attempt history.
	Retry(ctx context.Context, id uuid.UUID) (*Job, error)

	// RequeueExpired returns every PROCESSING job whose lease expired before
	// now to PENDING without touching its retry count. It reports the number
	// of jobs requeued.
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
}

// ArtifactStore holds generated report files. References are opaque to
// callers; only the store knows how to resolve them.
type ArtifactStore interface {
	// Save writes an artifact for a job and returns its descriptor. A second
	// save for the same job (a retry) replaces the earlier artifact.
	Save(ctx context.Context, jobID uuid.UUID, contentType string, data []byte) (Artifact, error)

	// Open returns a reader over the artifact's bytes. The caller closes it.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// PayloadStore resolves the opaque payload reference carried by a job into
// the validated record set (imports) or report configuration (reports) it
// points at.
type PayloadStore interface {
	// Put stores payload bytes for a job and returns the opaque reference to
	// persist on the job row.
	Put(ctx context.Context, jobID uuid.UUID, payload []byte) (string, error)

	// Get resolves a payload reference. Returns ErrPayloadNotFound if the
	// reference is unknown.
	Get(ctx context.Context, ref string) ([]byte, error)
}
