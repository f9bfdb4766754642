// Package memory provides an in-memory JobRepository mirroring the Postgres
// store's semantics. It backs application-layer tests and local development;
// production always uses the durable store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campusops/batchline/internal/domain/jobs"
)

var _ jobs.JobRepository = (*JobStore)(nil)

// JobStore is a thread-safe, in-memory implementation of jobs.JobRepository.
// All transitions go through the domain aggregate under a single mutex, which
// matches the atomicity the Postgres store gets from guarded UPDATEs.
type JobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*jobs.Job
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]*jobs.Job)}
}

// Create persists a newly admitted job.
func (s *JobStore) Create(ctx context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID()] = clone(job)
	return nil
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return clone(job), nil
}

// ListByScope returns the most recent jobs for a scope, newest first.
func (s *JobStore) ListByScope(ctx context.Context, scopeID string, limit int) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*jobs.Job
	for _, job := range s.jobs {
		if job.ScopeID() == scopeID {
			out = append(out, clone(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimNext claims the next PENDING job: lowest priority value first, oldest
// first within a priority. The whole claim happens under the store mutex so
// two workers can never claim the same job.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *jobs.Job
	for _, job := range s.jobs {
		if job.Status() != jobs.JobStatusPending {
			continue
		}
		if next == nil ||
			job.Priority() < next.Priority() ||
			(job.Priority() == next.Priority() && job.CreatedAt().Before(next.CreatedAt())) {
			next = job
		}
	}
	if next == nil {
		return nil, jobs.ErrNoPendingJobs
	}

	if err := next.Claim(workerID, leaseFor); err != nil {
		return nil, err
	}
	return clone(next), nil
}

// Claim claims a specific PENDING job for the worker.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID, workerID string, leaseFor time.Duration) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if err := job.Claim(workerID, leaseFor); err != nil {
		return nil, err
	}
	return clone(job), nil
}

// RenewLease extends the worker's lease on a job it owns.
func (s *JobStore) RenewLease(ctx context.Context, id uuid.UUID, workerID string, leaseFor time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	return job.RenewLease(workerID, leaseFor)
}

// Requeue returns a PROCESSING job the worker owns to PENDING.
func (s *JobStore) Requeue(ctx context.Context, id uuid.UUID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	return job.Requeue(workerID)
}

// UpdateProgress persists forward progress for the owning worker.
func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, workerID string, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	return job.AdvanceProgress(workerID, processed)
}

// Complete transitions the job to COMPLETED with its result.
func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, workerID string, result jobs.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	return job.Complete(workerID, result)
}

// Fail transitions the job to FAILED with a systemic error message.
func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, workerID string, errMsg string, partial *jobs.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	return job.Fail(workerID, errMsg, partial)
}

// Cancel transitions a PENDING or PROCESSING job to CANCELLED.
func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if err := job.Cancel(); err != nil {
		return nil, err
	}
	return clone(job), nil
}

// Retry re-admits a FAILED or CANCELLED job.
func (s *JobStore) Retry(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if err := job.Retry(); err != nil {
		return nil, err
	}
	return clone(job), nil
}

// RequeueExpired returns PROCESSING jobs with lapsed leases to PENDING.
func (s *JobStore) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requeued := 0
	for _, job := range s.jobs {
		if job.LeaseExpired(now) {
			if err := job.RequeueExpired(now); err == nil {
				requeued++
			}
		}
	}
	return requeued, nil
}

func clone(job *jobs.Job) *jobs.Job {
	attempts := make([]jobs.Attempt, len(job.Attempts()))
	copy(attempts, job.Attempts())

	var result *jobs.Result
	if r := job.Result(); r != nil {
		c := *r
		result = &c
	}

	return jobs.ReconstructJob(
		job.ID(), job.Type(), job.ScopeID(), job.Status(), job.PayloadRef(),
		job.Progress(), result, attempts, job.RetryCount(), job.Priority(),
		job.LeaseOwner(), job.LeaseExpiresAt(),
		job.CreatedAt(), job.StartedAt(), job.CompletedAt(), job.ErrorMessage(),
	)
}
