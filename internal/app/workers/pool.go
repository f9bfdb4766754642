package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/pkg/common"
	"github.com/campusops/batchline/pkg/common/logger"
)

// PoolConfig carries the pool's tunables.
type PoolConfig struct {
	Logger   *logger.Logger
	Repo     jobs.JobRepository
	Executor *Executor

	// WorkerPrefix names the workers; each goroutine gets a numbered suffix.
	WorkerPrefix string
	// Workers is the number of concurrent claim loops.
	Workers int
	// ClaimRPS paces claim attempts across the pool.
	ClaimRPS float64
	// IdleWait is how long a worker sleeps after finding the queue empty.
	IdleWait time.Duration
	// LeaseFor is the lease duration requested on claim.
	LeaseFor time.Duration
}

// Pool runs N claim loops against the job queue. Each loop claims under the
// shared rate limiter, hands the job to the executor, and goes back for
// more. The claim itself is the only coordination between workers.
type Pool struct {
	log      *logger.Logger
	repo     jobs.JobRepository
	executor *Executor
	limiter  *common.RateLimiter

	workerPrefix string
	workers      int
	idleWait     time.Duration
	leaseFor     time.Duration
}

// NewPool creates a worker pool from its configuration.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ClaimRPS <= 0 {
		cfg.ClaimRPS = 10
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = time.Second
	}
	return &Pool{
		log:          cfg.Logger,
		repo:         cfg.Repo,
		executor:     cfg.Executor,
		limiter:      common.NewRateLimiter(cfg.ClaimRPS, cfg.Workers),
		workerPrefix: cfg.WorkerPrefix,
		workers:      cfg.Workers,
		idleWait:     cfg.IdleWait,
		leaseFor:     cfg.LeaseFor,
	}
}

// Run blocks running the claim loops until ctx is cancelled. It returns once
// every worker has drained.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.workerPrefix, i)
		g.Go(func() error {
			p.runWorker(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	p.log.Info(ctx, "worker started", "worker_id", workerID)
	defer p.log.Info(ctx, "worker stopped", "worker_id", workerID)

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		job, err := p.repo.ClaimNext(ctx, workerID, p.leaseFor)
		switch {
		case errors.Is(err, jobs.ErrNoPendingJobs):
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idleWait):
			}
			continue
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			p.log.Error(ctx, "claiming next job failed", "worker_id", workerID, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idleWait):
			}
			continue
		}

		if err := p.executor.Execute(ctx, job, workerID); err != nil {
			p.log.Error(ctx, "executing job failed", "worker_id", workerID, "job_id", job.ID(), "err", err)
		}
	}
}
