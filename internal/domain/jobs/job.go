// Package jobs contains the core domain model for the asynchronous job
// pipeline: the job aggregate, its status state machine, lease semantics, and
// the ports the application layer depends on.
package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of asynchronous work (an import batch or a report
// generation) tracked through a status lifecycle. All state transitions
// funnel through this aggregate so the lifecycle rules live in one place;
// repositories persist each transition as a single atomic write.
type Job struct {
	id      uuid.UUID
	jobType JobType

	// scopeID is the tenant boundary. Every record a job touches must belong
	// to this scope; cross-scope writes are forbidden.
	scopeID string

	status     JobStatus
	payloadRef string
	progress   Progress
	result     *Result
	attempts   []Attempt

	retryCount int
	priority   int

	leaseOwner     string
	leaseExpiresAt time.Time

	createdAt    time.Time
	startedAt    time.Time
	completedAt  time.Time
	errorMessage string

	clock timeProvider
}

type timeProvider interface{ Now() time.Time }

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// NewJob creates a job in PENDING with the progress denominator fixed at the
// submitted batch size.
func NewJob(id uuid.UUID, jobType JobType, scopeID, payloadRef string, priority, total int) *Job {
	clock := realTimeProvider{}
	return &Job{
		id:         id,
		jobType:    jobType,
		scopeID:    scopeID,
		status:     JobStatusPending,
		payloadRef: payloadRef,
		progress:   NewProgress(total),
		priority:   priority,
		createdAt:  clock.Now(),
		clock:      clock,
	}
}

// ReconstructJob creates a Job from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from the
// database.
func ReconstructJob(
	id uuid.UUID,
	jobType JobType,
	scopeID string,
	status JobStatus,
	payloadRef string,
	progress Progress,
	result *Result,
	attempts []Attempt,
	retryCount int,
	priority int,
	leaseOwner string,
	leaseExpiresAt time.Time,
	createdAt, startedAt, completedAt time.Time,
	errorMessage string,
) *Job {
	return &Job{
		id:             id,
		jobType:        jobType,
		scopeID:        scopeID,
		status:         status,
		payloadRef:     payloadRef,
		progress:       progress,
		result:         result,
		attempts:       attempts,
		retryCount:     retryCount,
		priority:       priority,
		leaseOwner:     leaseOwner,
		leaseExpiresAt: leaseExpiresAt,
		createdAt:      createdAt,
		startedAt:      startedAt,
		completedAt:    completedAt,
		errorMessage:   errorMessage,
		clock:          realTimeProvider{},
	}
}

func (j *Job) ID() uuid.UUID             { return j.id }
func (j *Job) Type() JobType             { return j.jobType }
func (j *Job) ScopeID() string           { return j.scopeID }
func (j *Job) Status() JobStatus         { return j.status }
func (j *Job) PayloadRef() string        { return j.payloadRef }
func (j *Job) Progress() Progress        { return j.progress }
func (j *Job) Result() *Result           { return j.result }
func (j *Job) Attempts() []Attempt       { return j.attempts }
func (j *Job) RetryCount() int           { return j.retryCount }
func (j *Job) Priority() int             { return j.priority }
func (j *Job) LeaseOwner() string        { return j.leaseOwner }
func (j *Job) LeaseExpiresAt() time.Time { return j.leaseExpiresAt }
func (j *Job) CreatedAt() time.Time      { return j.createdAt }
func (j *Job) StartedAt() time.Time      { return j.startedAt }
func (j *Job) CompletedAt() time.Time    { return j.completedAt }
func (j *Job) ErrorMessage() string      { return j.errorMessage }

// LeaseExpired reports whether the job's lease has lapsed as of now. Only
// meaningful for PROCESSING jobs.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.status == JobStatusProcessing && now.After(j.leaseExpiresAt)
}

// Claim transitions PENDING -> PROCESSING and installs the worker's lease.
// Status and lease fields change together; repositories must persist them as
// a single compare-and-set so exactly one worker owns a job at a time.
func (j *Job) Claim(workerID string, leaseFor time.Duration) error {
	if err := j.status.ValidateTransition(JobStatusProcessing); err != nil {
		return err
	}
	now := j.clock.Now()
	j.status = JobStatusProcessing
	j.leaseOwner = workerID
	j.leaseExpiresAt = now.Add(leaseFor)
	if j.startedAt.IsZero() {
		j.startedAt = now
	}
	return nil
}

// RenewLease extends the lease held by workerID. It fails with ErrLeaseLost
// if the worker no longer owns the job.
func (j *Job) RenewLease(workerID string, leaseFor time.Duration) error {
	if err := j.requireOwner(workerID); err != nil {
		return err
	}
	j.leaseExpiresAt = j.clock.Now().Add(leaseFor)
	return nil
}

// AdvanceProgress records forward progress made by the owning worker.
func (j *Job) AdvanceProgress(workerID string, processed int) error {
	if err := j.requireOwner(workerID); err != nil {
		return err
	}
	return j.progress.advance(processed)
}

// Complete transitions PROCESSING -> COMPLETED with the attempt's result.
// Only the lease owner may complete a job, which keeps a stale worker's
// write from clobbering a requeued job.
func (j *Job) Complete(workerID string, result Result) error {
	if err := j.requireOwner(workerID); err != nil {
		return err
	}
	if err := j.status.ValidateTransition(JobStatusCompleted); err != nil {
		return err
	}
	// Final progress flush: at completion, processed must equal the sum of
	// successes and failures.
	if err := j.progress.advance(result.SuccessCount + result.FailureCount); err != nil {
		return fmt.Errorf("completing job %s: %w", j.id, err)
	}
	j.status = JobStatusCompleted
	j.result = &result
	j.completedAt = j.clock.Now()
	j.clearLease()
	return nil
}

// Fail transitions PROCESSING -> FAILED after a systemic error. The partial
// result is retained so diagnostics survive.
func (j *Job) Fail(workerID string, errMsg string, partial *Result) error {
	if err := j.requireOwner(workerID); err != nil {
		return err
	}
	if err := j.status.ValidateTransition(JobStatusFailed); err != nil {
		return err
	}
	j.status = JobStatusFailed
	j.errorMessage = errMsg
	j.result = partial
	j.completedAt = j.clock.Now()
	j.clearLease()
	return nil
}

// Cancel transitions PENDING or PROCESSING -> CANCELLED. Cancelling an
// already-cancelled job succeeds without changing state; cancelling a
// COMPLETED or FAILED job is an invalid transition. Cancellation is
// cooperative: a processing worker observes the new status between records
// and stops.
func (j *Job) Cancel() error {
	if j.status == JobStatusCancelled {
		return nil
	}
	if err := j.status.ValidateTransition(JobStatusCancelled); err != nil {
		return err
	}
	j.status = JobStatusCancelled
	j.completedAt = j.clock.Now()
	j.clearLease()
	return nil
}

// Retry re-admits a FAILED or CANCELLED job as a new attempt: the retry
// counter increments, progress resets to {0, total}, and the prior result is
// archived rather than overwritten in place.
func (j *Job) Retry() error {
	if j.status != JobStatusFailed && j.status != JobStatusCancelled {
		return fmt.Errorf("%w: cannot retry job in %s", ErrInvalidTransition, j.status)
	}

	endedAt := j.completedAt
	attempt := Attempt{
		Number:       j.retryCount + 1,
		Status:       j.status,
		Result:       j.result,
		ErrorMessage: j.errorMessage,
	}
	if !endedAt.IsZero() {
		attempt.EndedAt = &endedAt
	}
	j.attempts = append(j.attempts, attempt)

	j.status = JobStatusPending
	j.retryCount++
	j.progress = NewProgress(j.progress.Total)
	j.result = nil
	j.errorMessage = ""
	j.startedAt = time.Time{}
	j.completedAt = time.Time{}
	j.clearLease()
	return nil
}

// Requeue returns a PROCESSING job the worker owns to PENDING, releasing the
// lease early so another worker can claim it without waiting for expiry. Like
// a lease-loss requeue, it does not count as a retry attempt.
func (j *Job) Requeue(workerID string) error {
	if err := j.requireOwner(workerID); err != nil {
		return err
	}
	j.status = JobStatusPending
	j.clearLease()
	return nil
}

// RequeueExpired moves a PROCESSING job whose lease lapsed back to PENDING so
// another worker can pick it up. A lease-loss requeue is invisible to the
// user: the retry counter does not change.
func (j *Job) RequeueExpired(now time.Time) error {
	if !j.LeaseExpired(now) {
		return fmt.Errorf("%w: job %s is not processing with an expired lease", ErrInvalidTransition, j.id)
	}
	j.status = JobStatusPending
	j.clearLease()
	return nil
}

func (j *Job) requireOwner(workerID string) error {
	if j.status != JobStatusProcessing || j.leaseOwner != workerID {
		return fmt.Errorf("%w: job %s not owned by %s", ErrLeaseLost, j.id, workerID)
	}
	return nil
}

func (j *Job) clearLease() {
	j.leaseOwner = ""
	j.leaseExpiresAt = time.Time{}
}
