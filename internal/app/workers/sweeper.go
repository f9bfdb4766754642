package workers

import (
	"context"
	"time"

	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/pkg/common/logger"
)

// Sweeper periodically requeues PROCESSING jobs whose leases expired, so
// work owned by a dead worker becomes claimable again. Requeueing never
// touches the retry counter. A legitimate owner racing the sweep wins
// through the guarded terminal write.
type Sweeper struct {
	log      *logger.Logger
	repo     jobs.JobRepository
	interval time.Duration
}

// NewSweeper creates a lease sweeper running at the given interval.
func NewSweeper(log *logger.Logger, repo jobs.JobRepository, interval time.Duration) *Sweeper {
	return &Sweeper{log: log, repo: repo, interval: interval}
}

// Run blocks sweeping until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, err := s.repo.RequeueExpired(ctx, time.Now().UTC())
			if err != nil {
				s.log.Error(ctx, "lease sweep failed", "err", err)
				continue
			}
			if requeued > 0 {
				s.log.Warn(ctx, "requeued jobs with expired leases", "count", requeued)
			}
		}
	}
}
