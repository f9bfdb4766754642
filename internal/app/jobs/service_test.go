package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/batchline/internal/domain/imports"
	domain "github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/domain/reports"
	"github.com/campusops/batchline/internal/infra/eventbus/memory"
	"github.com/campusops/batchline/internal/infra/storage"
	jobsmem "github.com/campusops/batchline/internal/infra/storage/jobs/memory"
	"github.com/campusops/batchline/pkg/common/logger"
)

// recordingExecutor completes any job it is handed with a fixed result.
type recordingExecutor struct {
	repo     *jobsmem.JobStore
	executed []string
}

func (r *recordingExecutor) Execute(ctx context.Context, job *domain.Job, workerID string) error {
	r.executed = append(r.executed, job.ID().String())
	return r.repo.Complete(ctx, job.ID(), workerID, domain.Result{SuccessCount: job.Progress().Total})
}

type serviceFixture struct {
	repo      *jobsmem.JobStore
	payloads  *jobsmem.PayloadStore
	publisher *memory.DomainEventPublisher
	inline    *recordingExecutor
	svc       *Service
}

func newServiceFixture(t *testing.T, syncThreshold int) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		repo:      jobsmem.NewJobStore(),
		payloads:  jobsmem.NewPayloadStore(),
		publisher: memory.NewDomainEventPublisher(memory.NewEventBus()),
	}
	f.inline = &recordingExecutor{repo: f.repo}
	f.svc = NewService(Config{
		Logger:         logger.New(io.Discard, logger.LevelInfo, "test", nil),
		Tracer:         storage.NoOpTracer(),
		Repo:           f.repo,
		Payloads:       f.payloads,
		Publisher:      f.publisher,
		Validator:      imports.NewEngine(),
		Inline:         f.inline,
		SyncThreshold:  syncThreshold,
		InlineLeaseFor: time.Minute,
	})
	return f
}

func studentRows(n int) []map[string]string {
	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]string{
			"student_number": "S-" + string(rune('A'+i)),
			"first_name":     "First",
			"last_name":      "Last",
			"email":          "student@example.edu",
		})
	}
	return rows
}

func TestSubmitImportAsync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newServiceFixture(t, 0)

	res, err := f.svc.SubmitImport(ctx, SubmitImportCommand{
		ScopeID: "scope-1",
		Type:    domain.JobTypeImportStudents,
		Rows:    studentRows(3),
	})
	require.NoError(t, err)
	assert.False(t, res.Synchronous)
	assert.Empty(t, res.Invalid)

	job, err := f.repo.Get(ctx, res.Job.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status())
	assert.Equal(t, 3, job.Progress().Total)
	assert.Equal(t, 0, job.Progress().Processed)

	// Payload holds exactly the valid record set.
	payload, err := f.payloads.Get(ctx, job.PayloadRef())
	require.NoError(t, err)
	records, err := imports.DecodeRecords(payload)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	events := f.publisher.Published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeJobEnqueued, events[0].EventType())
}

func TestSubmitImportSynchronous(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newServiceFixture(t, 5)

	res, err := f.svc.SubmitImport(ctx, SubmitImportCommand{
		ScopeID: "scope-1",
		Type:    domain.JobTypeImportStudents,
		Rows:    studentRows(3),
	})
	require.NoError(t, err)
	assert.True(t, res.Synchronous)
	assert.Equal(t, domain.JobStatusCompleted, res.Job.Status())
	assert.Len(t, f.inline.executed, 1)
}

// abortingExecutor errors without reaching a terminal write, leaving the job
// claimed under the inline lease.
type abortingExecutor struct{}

func (abortingExecutor) Execute(ctx context.Context, job *domain.Job, workerID string) error {
	return errors.New("executor crashed")
}

func TestSubmitImportInlineFailureRequeuesJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newServiceFixture(t, 5)
	f.svc.inline = abortingExecutor{}

	res, err := f.svc.SubmitImport(ctx, SubmitImportCommand{
		ScopeID: "scope-1",
		Type:    domain.JobTypeImportStudents,
		Rows:    studentRows(3),
	})
	require.NoError(t, err)
	assert.False(t, res.Synchronous)

	// The inline claim is released, so the job is immediately claimable by
	// the pool rather than waiting out the inline lease.
	job, err := f.repo.Get(ctx, res.Job.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status())
	assert.Empty(t, job.LeaseOwner())
	assert.Equal(t, 0, job.RetryCount())

	claimed, err := f.repo.ClaimNext(ctx, "pool-worker", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, res.Job.ID(), claimed.ID())
}

func TestSubmitImportKeepsInvalidRowDiagnostics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newServiceFixture(t, 0)

	rows := studentRows(2)
	rows = append(rows, map[string]string{"first_name": "NoNumber"})

	res, err := f.svc.SubmitImport(ctx, SubmitImportCommand{
		ScopeID: "scope-1",
		Type:    domain.JobTypeImportStudents,
		Rows:    rows,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Job.Progress().Total)
	require.Len(t, res.Invalid, 1)
	assert.NotEmpty(t, res.Invalid[0].Errors)
}

func TestSubmitImportRejectsAllInvalidBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newServiceFixture(t, 0)

	res, err := f.svc.SubmitImport(ctx, SubmitImportCommand{
		ScopeID: "scope-1",
		Type:    domain.JobTypeImportStudents,
		Rows:    []map[string]string{{"first_name": "Only"}},
	})
	require.ErrorIs(t, err, ErrNoValidRecords)
	assert.Nil(t, res.Job)
	assert.Len(t, res.Invalid, 1)

	// Nothing persisted, nothing published.
	jobsInScope, err := f.repo.ListByScope(ctx, "scope-1", 10)
	require.NoError(t, err)
	assert.Empty(t, jobsInScope)
	assert.Empty(t, f.publisher.Published())
}

func TestSubmitImportRejectsNonImportType(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, 0)

	_, err := f.svc.SubmitImport(context.Background(), SubmitImportCommand{
		ScopeID: "scope-1",
		Type:    domain.JobTypeGenerateReport,
		Rows:    studentRows(1),
	})
	assert.Error(t, err)
}

func TestSubmitReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newServiceFixture(t, 0)

	job, err := f.svc.SubmitReport(ctx, "scope-1", reports.Config{
		ReportType:   "students",
		Columns:      []string{"student_number"},
		ExportFormat: reports.FormatJSON,
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status())
	assert.Equal(t, domain.JobTypeGenerateReport, job.Type())
	assert.Equal(t, 1, job.Progress().Total)
}

func TestSubmitReportRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, 0)

	_, err := f.svc.SubmitReport(context.Background(), "scope-1", reports.Config{
		ReportType:   "students",
		ExportFormat: reports.FormatJSON,
	}, 0)
	assert.ErrorIs(t, err, reports.ErrInvalidConfig)
}

func TestCancelAndRetryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newServiceFixture(t, 0)

	res, err := f.svc.SubmitImport(ctx, SubmitImportCommand{
		ScopeID: "scope-1",
		Type:    domain.JobTypeImportStudents,
		Rows:    studentRows(2),
	})
	require.NoError(t, err)
	id := res.Job.ID()

	cancelled, err := f.svc.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status())

	// Cancel is idempotent.
	again, err := f.svc.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, again.Status())

	retried, err := f.svc.Retry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, retried.Status())
	assert.Equal(t, 1, retried.RetryCount())

	// Retrying a PENDING job is invalid.
	_, err = f.svc.Retry(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestValidateBatchDryRun(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, 0)

	rows := studentRows(1)
	rows = append(rows, map[string]string{"student_number": "s-a", "first_name": "Dup", "last_name": "Row", "email": "d@example.edu"})

	part, err := f.svc.ValidateBatch(domain.JobTypeImportStudents, rows)
	require.NoError(t, err)
	assert.Len(t, part.Valid, 1)
	require.Len(t, part.Invalid, 1)
	assert.Contains(t, part.Invalid[0].Errors[0], "Duplicate student")
}
