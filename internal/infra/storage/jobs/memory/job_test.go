package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/batchline/internal/domain/jobs"
)

func newPendingJob(priority int) *jobs.Job {
	return jobs.NewJob(uuid.New(), jobs.JobTypeImportStudents, "scope-1", "ref", priority, 10)
}

func TestClaimNextHonorsPriorityThenFIFO(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	low := newPendingJob(5)
	require.NoError(t, store.Create(ctx, low))
	time.Sleep(time.Millisecond)
	high := newPendingJob(0)
	require.NoError(t, store.Create(ctx, high))

	claimed, err := store.ClaimNext(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, high.ID(), claimed.ID(), "lower priority value wins")

	claimed, err = store.ClaimNext(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, low.ID(), claimed.ID())

	_, err = store.ClaimNext(ctx, "worker-1", time.Minute)
	assert.ErrorIs(t, err, jobs.ErrNoPendingJobs)
}

func TestClaimNextIsExclusiveUnderConcurrency(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		require.NoError(t, store.Create(ctx, newPendingJob(0)))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]string)
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		workerID := string(rune('a' + w))
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx, workerID, time.Minute)
				if err != nil {
					return
				}
				mu.Lock()
				prev, dup := claimed[job.ID()]
				claimed[job.ID()] = workerID
				mu.Unlock()
				require.False(t, dup, "job %s claimed by both %s and %s", job.ID(), prev, workerID)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
}

func TestRequeueExpiredRestoresPendingWithoutRetry(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	job := newPendingJob(0)
	require.NoError(t, store.Create(ctx, job))

	claimed, err := store.ClaimNext(ctx, "worker-1", 10*time.Millisecond)
	require.NoError(t, err)

	requeued, err := store.RequeueExpired(ctx, claimed.LeaseExpiresAt().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	got, err := store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status())
	assert.Zero(t, got.RetryCount())

	// The crashed worker's terminal write must not land after the requeue.
	err = store.Complete(ctx, job.ID(), "worker-1", jobs.Result{})
	assert.ErrorIs(t, err, jobs.ErrLeaseLost)

	// A second worker picks the job up and completes it.
	_, err = store.ClaimNext(ctx, "worker-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.UpdateProgress(ctx, job.ID(), "worker-2", 10))
	require.NoError(t, store.Complete(ctx, job.ID(), "worker-2", jobs.Result{SuccessCount: 10}))

	got, err = store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, got.Status())
	assert.Zero(t, got.RetryCount())
}

func TestCancelThenRetryRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	job := newPendingJob(0)
	require.NoError(t, store.Create(ctx, job))
	_, err := store.ClaimNext(ctx, "worker-1", time.Minute)
	require.NoError(t, err)

	cancelled, err := store.Cancel(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, cancelled.Status())

	// Idempotent cancel.
	again, err := store.Cancel(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, again.Status())

	retried, err := store.Retry(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, retried.Status())
	assert.Equal(t, 1, retried.RetryCount())
	assert.Equal(t, jobs.Progress{Processed: 0, Total: 10}, retried.Progress())
	assert.Len(t, retried.Attempts(), 1)
}

func TestGetReturnsSnapshots(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	job := newPendingJob(0)
	require.NoError(t, store.Create(ctx, job))

	snapshot, err := store.Get(ctx, job.ID())
	require.NoError(t, err)

	// Mutating the snapshot must not affect the stored job.
	require.NoError(t, snapshot.Cancel())

	stored, err := store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, stored.Status())
}
