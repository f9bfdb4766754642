package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/infra/storage"
)

func setupJobTest(t *testing.T) (context.Context, *jobStore, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	store := NewJobStore(pool, storage.NoOpTracer())

	return context.Background(), store, cleanup
}

func createTestJob(t *testing.T, ctx context.Context, store *jobStore, total int) *jobs.Job {
	t.Helper()

	job := jobs.NewJob(uuid.New(), jobs.JobTypeImportStudents, "scope-1", uuid.NewString(), 0, total)
	require.NoError(t, store.Create(ctx, job))
	return job
}

func TestJobStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createTestJob(t, ctx, store, 25)

	got, err := store.Get(ctx, job.ID())
	require.NoError(t, err)

	assert.Equal(t, job.ID(), got.ID())
	assert.Equal(t, jobs.JobTypeImportStudents, got.Type())
	assert.Equal(t, "scope-1", got.ScopeID())
	assert.Equal(t, jobs.JobStatusPending, got.Status())
	assert.Equal(t, jobs.Progress{Processed: 0, Total: 25}, got.Progress())

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestJobStoreClaimNextIsExclusive(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	const jobCount = 10
	for i := 0; i < jobCount; i++ {
		createTestJob(t, ctx, store, 5)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]string)
		wg      sync.WaitGroup
	)
	for _, workerID := range []string{"w1", "w2", "w3"} {
		wg.Add(1)
		workerID := workerID
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx, workerID, time.Minute)
				if err != nil {
					return
				}
				mu.Lock()
				_, dup := claimed[job.ID()]
				claimed[job.ID()] = workerID
				mu.Unlock()
				assert.False(t, dup, "job claimed twice")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
}

func TestJobStoreClaimOrdering(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	low := jobs.NewJob(uuid.New(), jobs.JobTypeImportStaff, "scope-1", uuid.NewString(), 5, 1)
	require.NoError(t, store.Create(ctx, low))
	high := jobs.NewJob(uuid.New(), jobs.JobTypeImportStaff, "scope-1", uuid.NewString(), 0, 1)
	require.NoError(t, store.Create(ctx, high))

	claimed, err := store.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, high.ID(), claimed.ID())
}

func TestJobStoreCompleteGuardedByLease(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createTestJob(t, ctx, store, 3)

	claimed, err := store.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, job.ID(), claimed.ID())

	// A non-owner cannot complete.
	err = store.Complete(ctx, job.ID(), "w2", jobs.Result{SuccessCount: 3})
	assert.ErrorIs(t, err, jobs.ErrLeaseLost)

	require.NoError(t, store.UpdateProgress(ctx, job.ID(), "w1", 3))
	result := jobs.Result{
		SuccessCount: 2,
		FailureCount: 1,
		RecordErrors: []jobs.RecordError{{RowNumber: 3, Identifier: "S-003", Errors: []string{"duplicate key"}}},
	}
	require.NoError(t, store.Complete(ctx, job.ID(), "w1", result))

	got, err := store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, got.Status())
	assert.Equal(t, 3, got.Progress().Processed)
	require.NotNil(t, got.Result())
	assert.Equal(t, 2, got.Result().SuccessCount)
	assert.Len(t, got.Result().RecordErrors, 1)
	assert.Empty(t, got.LeaseOwner())
}

func TestJobStoreRequeueReleasesLeaseEarly(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createTestJob(t, ctx, store, 3)

	_, err := store.Claim(ctx, job.ID(), "inline-1", time.Minute)
	require.NoError(t, err)

	// A non-owner cannot hand the job back.
	assert.ErrorIs(t, store.Requeue(ctx, job.ID(), "w2"), jobs.ErrLeaseLost)

	require.NoError(t, store.Requeue(ctx, job.ID(), "inline-1"))

	got, err := store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status())
	assert.Empty(t, got.LeaseOwner())
	assert.Zero(t, got.RetryCount())

	// Immediately claimable by a pool worker; the prior owner's late writes
	// must not land.
	claimed, err := store.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID(), claimed.ID())
	assert.ErrorIs(t, store.Complete(ctx, job.ID(), "inline-1", jobs.Result{}), jobs.ErrLeaseLost)
}

func TestJobStoreProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createTestJob(t, ctx, store, 10)
	_, err := store.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, job.ID(), "w1", 6))
	assert.Error(t, store.UpdateProgress(ctx, job.ID(), "w1", 4), "regression must be rejected")
	assert.Error(t, store.UpdateProgress(ctx, job.ID(), "w1", 11), "cannot exceed total")

	got, err := store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, 6, got.Progress().Processed)
	assert.Equal(t, 10, got.Progress().Total)
}

func TestJobStoreRequeueExpired(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createTestJob(t, ctx, store, 4)

	// Claim with a lease that is already about to lapse.
	_, err := store.ClaimNext(ctx, "w1", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	requeued, err := store.RequeueExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	got, err := store.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status())
	assert.Zero(t, got.RetryCount(), "requeue must not count as a retry")

	// The stale owner's writes must be rejected after requeue.
	assert.ErrorIs(t, store.RenewLease(ctx, job.ID(), "w1", time.Minute), jobs.ErrLeaseLost)
	assert.ErrorIs(t, store.Complete(ctx, job.ID(), "w1", jobs.Result{}), jobs.ErrLeaseLost)

	// A healthy lease is not requeued.
	_, err = store.ClaimNext(ctx, "w2", time.Hour)
	require.NoError(t, err)
	requeued, err = store.RequeueExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, requeued)
}

func TestJobStoreCancelSemantics(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createTestJob(t, ctx, store, 2)

	cancelled, err := store.Cancel(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, cancelled.Status())

	// Idempotent on already-cancelled.
	again, err := store.Cancel(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, again.Status())

	// Invalid on completed.
	done := createTestJob(t, ctx, store, 1)
	_, err = store.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.UpdateProgress(ctx, done.ID(), "w1", 1))
	require.NoError(t, store.Complete(ctx, done.ID(), "w1", jobs.Result{SuccessCount: 1}))
	_, err = store.Cancel(ctx, done.ID())
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)

	_, err = store.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestJobStoreRetryArchivesAttempt(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createTestJob(t, ctx, store, 8)
	_, err := store.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.UpdateProgress(ctx, job.ID(), "w1", 2))

	partial := &jobs.Result{SuccessCount: 1, FailureCount: 1}
	require.NoError(t, store.Fail(ctx, job.ID(), "w1", "roster unavailable", partial))

	retried, err := store.Retry(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, retried.Status())
	assert.Equal(t, 1, retried.RetryCount())
	assert.Equal(t, jobs.Progress{Processed: 0, Total: 8}, retried.Progress())
	assert.Nil(t, retried.Result())

	require.Len(t, retried.Attempts(), 1)
	attempt := retried.Attempts()[0]
	assert.Equal(t, jobs.JobStatusFailed, attempt.Status)
	assert.Equal(t, "roster unavailable", attempt.ErrorMessage)
	require.NotNil(t, attempt.Result)
	assert.Equal(t, 1, attempt.Result.FailureCount)

	// Retrying a pending job is invalid.
	_, err = store.Retry(ctx, job.ID())
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
}

func TestPayloadStoreRoundTrip(t *testing.T) {
	t.Parallel()

	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	store := NewPayloadStore(pool, storage.NoOpTracer())
	jobID := uuid.New()

	ref, err := store.Put(context.Background(), jobID, []byte(`{"rows":[]}`))
	require.NoError(t, err)
	assert.Equal(t, jobID.String(), ref)

	payload, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[]}`, string(payload))

	_, err = store.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, jobs.ErrPayloadNotFound)
}
