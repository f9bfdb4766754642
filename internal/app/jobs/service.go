// Package jobs is the application service for the job pipeline: batch
// submission, status reads, and the cancel/retry controller. It owns
// admission policy (validation, the zero-valid-records rejection, the
// sync/async split) and leaves processing to the worker layer.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusops/batchline/internal/domain/events"
	"github.com/campusops/batchline/internal/domain/imports"
	domain "github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/domain/reports"
	"github.com/campusops/batchline/pkg/common/logger"
)

// ErrNoValidRecords indicates an import batch where every row failed
// validation. No job is created.
var ErrNoValidRecords = errors.New("no valid records in batch")

// InlineExecutor processes a claimed job to its terminal status in the
// caller's goroutine. Small batches run through it synchronously instead of
// waiting for the pool.
type InlineExecutor interface {
	Execute(ctx context.Context, job *domain.Job, workerID string) error
}

// Config carries the service's collaborators and admission tunables.
type Config struct {
	Logger    *logger.Logger
	Tracer    trace.Tracer
	Repo      domain.JobRepository
	Payloads  domain.PayloadStore
	Publisher events.DomainEventPublisher
	Validator *imports.Engine

	// Inline, when set, processes batches of at most SyncThreshold valid
	// records synchronously.
	Inline         InlineExecutor
	SyncThreshold  int
	InlineLeaseFor time.Duration
}

// Service exposes the job pipeline's write and read operations.
type Service struct {
	log       *logger.Logger
	tracer    trace.Tracer
	repo      domain.JobRepository
	payloads  domain.PayloadStore
	publisher events.DomainEventPublisher
	validator *imports.Engine

	inline         InlineExecutor
	syncThreshold  int
	inlineLeaseFor time.Duration
}

// NewService creates the job application service.
func NewService(cfg Config) *Service {
	if cfg.InlineLeaseFor <= 0 {
		cfg.InlineLeaseFor = time.Minute
	}
	return &Service{
		log:            cfg.Logger,
		tracer:         cfg.Tracer,
		repo:           cfg.Repo,
		payloads:       cfg.Payloads,
		publisher:      cfg.Publisher,
		validator:      cfg.Validator,
		inline:         cfg.Inline,
		syncThreshold:  cfg.SyncThreshold,
		inlineLeaseFor: cfg.InlineLeaseFor,
	}
}

// SubmitImportCommand is a request to admit an import batch.
type SubmitImportCommand struct {
	ScopeID  string
	Type     domain.JobType
	Rows     []map[string]string
	Priority int
}

// SubmitResult reports the admitted job alongside the rows that failed
// validation. For synchronous submissions the job is already terminal.
type SubmitResult struct {
	Job         *domain.Job
	Invalid     []imports.Record
	Synchronous bool
}

// SubmitImport validates a batch and admits it as a job. Batches where every
// row fails validation are rejected with ErrNoValidRecords and the per-row
// diagnostics; nothing is persisted for them. Batches at or under the sync
// threshold process inline when an inline executor is configured.
func (s *Service) SubmitImport(ctx context.Context, cmd SubmitImportCommand) (SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.submit_import",
		trace.WithAttributes(
			attribute.String("scope_id", cmd.ScopeID),
			attribute.String("job_type", string(cmd.Type)),
			attribute.Int("rows", len(cmd.Rows)),
		))
	defer span.End()

	if !cmd.Type.IsImport() {
		return SubmitResult{}, fmt.Errorf("job type %s is not an import", cmd.Type)
	}

	part, err := s.validator.Validate(cmd.Type, cmd.Rows)
	if err != nil {
		return SubmitResult{}, err
	}
	if len(part.Valid) == 0 {
		return SubmitResult{Invalid: part.Invalid}, ErrNoValidRecords
	}

	payload, err := imports.EncodeRecords(part.Valid)
	if err != nil {
		return SubmitResult{}, err
	}

	job, err := s.admit(ctx, cmd.Type, cmd.ScopeID, cmd.Priority, len(part.Valid), payload)
	if err != nil {
		return SubmitResult{}, err
	}

	result := SubmitResult{Job: job, Invalid: part.Invalid}

	if s.inline != nil && len(part.Valid) <= s.syncThreshold {
		final, err := s.runInline(ctx, job)
		if err != nil {
			// Inline execution is an optimization, not a promise; runInline
			// has already released the claim, so the job is back in the queue
			// for the pool.
			s.log.Warn(ctx, "inline execution failed, job requeued for workers", "job_id", job.ID(), "err", err)
			return result, nil
		}
		result.Job = final
		result.Synchronous = true
	}

	return result, nil
}

// SubmitReport admits a report generation job. Reports always run on the
// worker pool.
func (s *Service) SubmitReport(ctx context.Context, scopeID string, cfg reports.Config, priority int) (*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.submit_report",
		trace.WithAttributes(
			attribute.String("scope_id", scopeID),
			attribute.String("report_type", cfg.ReportType),
		))
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	payload, err := reports.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	return s.admit(ctx, domain.JobTypeGenerateReport, scopeID, priority, 1, payload)
}

func (s *Service) admit(ctx context.Context, jobType domain.JobType, scopeID string, priority, total int, payload []byte) (*domain.Job, error) {
	id := uuid.New()

	ref, err := s.payloads.Put(ctx, id, payload)
	if err != nil {
		return nil, fmt.Errorf("storing job payload: %w", err)
	}

	job := domain.NewJob(id, jobType, scopeID, ref, priority, total)
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	s.publishEvent(ctx, domain.NewJobEnqueuedEvent(job), id.String())
	s.log.Info(ctx, "job admitted",
		"job_id", id, "job_type", jobType, "scope_id", scopeID, "total", total, "priority", priority)
	return job, nil
}

// runInline claims the freshly admitted job for a synthetic worker and
// processes it in the caller's goroutine. If execution aborts, the claim is
// released so the pool can pick the job up without waiting for the inline
// lease to expire.
func (s *Service) runInline(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	workerID := "inline-" + uuid.NewString()[:8]

	claimed, err := s.repo.Claim(ctx, job.ID(), workerID, s.inlineLeaseFor)
	if err != nil {
		return nil, fmt.Errorf("claiming job for inline run: %w", err)
	}
	if err := s.inline.Execute(ctx, claimed, workerID); err != nil {
		// Best effort: a lost guard means the job already moved on and there
		// is nothing to release.
		if requeueErr := s.repo.Requeue(ctx, job.ID(), workerID); requeueErr != nil && !errors.Is(requeueErr, domain.ErrLeaseLost) {
			s.log.Warn(ctx, "releasing inline claim failed, sweeper will recover the job",
				"job_id", job.ID(), "err", requeueErr)
		}
		return nil, err
	}
	return s.repo.Get(ctx, job.ID())
}

// GetStatus returns the job's current snapshot. Terminal jobs never change,
// so a terminal snapshot is safe to cache.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.repo.Get(ctx, id)
}

// List returns the most recent jobs for a scope, newest first.
func (s *Service) List(ctx context.Context, scopeID string, limit int) ([]*domain.Job, error) {
	return s.repo.ListByScope(ctx, scopeID, limit)
}

// Cancel requests cancellation of a PENDING or PROCESSING job. Cancelling an
// already-cancelled job succeeds; cancelling a COMPLETED or FAILED job
// returns domain.ErrInvalidTransition.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, domain.NewJobTerminalEvent(job), id.String())
	s.log.Info(ctx, "job cancelled", "job_id", id)
	return job, nil
}

// Retry re-admits a FAILED or CANCELLED job as a new attempt.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := s.repo.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, domain.NewJobRetriedEvent(id, job.RetryCount()), id.String())
	s.log.Info(ctx, "job retried", "job_id", id, "retry_count", job.RetryCount())
	return job, nil
}

// ValidateBatch runs the validation engine without creating a job. Backs the
// dry-run preview endpoint.
func (s *Service) ValidateBatch(jobType domain.JobType, rows []map[string]string) (imports.Partition, error) {
	return s.validator.Validate(jobType, rows)
}

func (s *Service) publishEvent(ctx context.Context, evt events.DomainEvent, key string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		s.log.Warn(ctx, "publishing job event failed", "event_type", evt.EventType(), "err", err)
	}
}
