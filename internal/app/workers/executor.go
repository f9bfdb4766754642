// Package workers runs claimed jobs to their terminal status: a pool of
// claim loops, per-type processors, a lease keeper that renews ownership
// while work is in flight, and a sweeper that requeues jobs whose workers
// died.
package workers

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
	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/domain/reports"
	"github.com/campusops/batchline/pkg/common/logger"
)

// errJobCancelled signals that processing stopped because the job was
// cancelled out from under the worker. Not a failure: the job is already in
// its terminal status.
var errJobCancelled = errors.New("job cancelled during processing")

// ExecutorConfig carries the collaborators and tunables for an Executor.
type ExecutorConfig struct {
	Logger    *logger.Logger
	Tracer    trace.Tracer
	Repo      jobs.JobRepository
	Payloads  jobs.PayloadStore
	Publisher events.DomainEventPublisher

	Roster     imports.RosterWriter
	Datasource reports.Datasource
	Artifacts  jobs.ArtifactStore
	Formats    FormatWriters

	// LeaseFor is the lease duration installed on claim and renewal.
	LeaseFor time.Duration
	// Heartbeat is the lease renewal interval; must be well under LeaseFor.
	Heartbeat time.Duration
	// ProgressEvery is the record batch size between progress writes.
	ProgressEvery int
}

// FormatWriters selects an export writer for a report format.
type FormatWriters func(format reports.ExportFormat) (FormatWriter, error)

// FormatWriter renders an assembled report table into file bytes.
type FormatWriter interface {
	Write(table reports.Table) ([]byte, string, error)
}

// Executor processes one claimed job to its terminal status. It owns the
// lease keeper for the duration of processing and performs the guarded
// terminal write.
type Executor struct {
	log       *logger.Logger
	tracer    trace.Tracer
	repo      jobs.JobRepository
	payloads  jobs.PayloadStore
	publisher events.DomainEventPublisher

	roster     imports.RosterWriter
	datasource reports.Datasource
	artifacts  jobs.ArtifactStore
	formats    FormatWriters

	leaseFor      time.Duration
	heartbeat     time.Duration
	progressEvery int
}

// NewExecutor creates an executor from its configuration.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 25
	}
	return &Executor{
		log:           cfg.Logger,
		tracer:        cfg.Tracer,
		repo:          cfg.Repo,
		payloads:      cfg.Payloads,
		publisher:     cfg.Publisher,
		roster:        cfg.Roster,
		datasource:    cfg.Datasource,
		artifacts:     cfg.Artifacts,
		formats:       cfg.Formats,
		leaseFor:      cfg.LeaseFor,
		heartbeat:     cfg.Heartbeat,
		progressEvery: cfg.ProgressEvery,
	}
}

// Execute runs a claimed job to completion under the worker's lease. It
// dispatches to the processor for the job's type, keeps the lease alive
// while the processor runs, and performs the guarded terminal write. A job
// cancelled mid-flight is abandoned without a terminal write; a lost lease
// aborts without touching the job.
func (e *Executor) Execute(ctx context.Context, job *jobs.Job, workerID string) error {
	ctx, span := e.tracer.Start(ctx, "workers.execute_job",
		trace.WithAttributes(
			attribute.String("job_id", job.ID().String()),
			attribute.String("job_type", job.Type().String()),
			attribute.String("worker_id", workerID),
		))
	defer span.End()

	e.publishEvent(ctx, jobs.NewJobStartedEvent(job.ID(), workerID), job.ID().String())

	// The lease keeper cancels procCtx if renewal fails, so the processor
	// observes lease loss between records at the latest.
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keeperDone := make(chan struct{})
	go func() {
		defer close(keeperDone)
		e.keepLease(procCtx, cancel, job.ID(), workerID)
	}()

	var (
		result jobs.Result
		err    error
	)
	switch {
	case job.Type().IsImport():
		result, err = e.processImport(procCtx, job, workerID)
	case job.Type() == jobs.JobTypeGenerateReport:
		result, err = e.processReport(procCtx, job, workerID)
	default:
		err = fmt.Errorf("no processor for job type %s", job.Type())
	}

	cancel()
	<-keeperDone

	// Classify context aborts: a cancelled job is terminal already, a lost
	// lease belongs to someone else now.
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = e.classifyAbort(ctx, job.ID(), err)
	}

	switch {
	case err == nil:
		if completeErr := e.repo.Complete(ctx, job.ID(), workerID, result); completeErr != nil {
			return fmt.Errorf("completing job %s: %w", job.ID(), completeErr)
		}
		e.log.Info(ctx, "job completed",
			"job_id", job.ID(), "worker_id", workerID,
			"success_count", result.SuccessCount, "failure_count", result.FailureCount)

	case errors.Is(err, errJobCancelled):
		e.log.Info(ctx, "job cancelled during processing", "job_id", job.ID(), "worker_id", workerID)
		return nil

	case errors.Is(err, jobs.ErrLeaseLost):
		e.log.Warn(ctx, "job lease lost during processing", "job_id", job.ID(), "worker_id", workerID)
		return err

	default:
		partial := result
		if failErr := e.repo.Fail(ctx, job.ID(), workerID, err.Error(), &partial); failErr != nil {
			return fmt.Errorf("failing job %s after %q: %w", job.ID(), err, failErr)
		}
		e.log.Error(ctx, "job failed", "job_id", job.ID(), "worker_id", workerID, "err", err)
	}

	final, getErr := e.repo.Get(ctx, job.ID())
	if getErr == nil {
		e.publishEvent(ctx, jobs.NewJobTerminalEvent(final), job.ID().String())
	}
	return nil
}

// keepLease renews the worker's lease on the heartbeat interval until ctx
// ends. A failed renewal cancels the processing context.
func (e *Executor) keepLease(ctx context.Context, cancel context.CancelFunc, jobID uuid.UUID, workerID string) {
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.repo.RenewLease(ctx, jobID, workerID, e.leaseFor); err != nil {
				if !errors.Is(err, context.Canceled) {
					e.log.Warn(ctx, "lease renewal failed", "job_id", jobID, "worker_id", workerID, "err", err)
				}
				cancel()
				return
			}
		}
	}
}

// classifyAbort resolves why the processing context was cancelled by
// checking the job's current status.
func (e *Executor) classifyAbort(ctx context.Context, jobID uuid.UUID, cause error) error {
	current, err := e.repo.Get(ctx, jobID)
	if err != nil {
		return cause
	}
	if current.Status() == jobs.JobStatusCancelled {
		return errJobCancelled
	}
	return fmt.Errorf("%w: %v", jobs.ErrLeaseLost, cause)
}

func (e *Executor) publishEvent(ctx context.Context, evt events.DomainEvent, key string) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		e.log.Warn(ctx, "publishing job event failed", "event_type", evt.EventType(), "err", err)
	}
}
