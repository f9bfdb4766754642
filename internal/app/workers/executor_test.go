package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/batchline/internal/domain/imports"
	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/domain/reports"
	"github.com/campusops/batchline/internal/infra/eventbus/memory"
	"github.com/campusops/batchline/internal/infra/export"
	"github.com/campusops/batchline/internal/infra/storage"
	artifactfs "github.com/campusops/batchline/internal/infra/storage/artifacts/filesystem"
	jobsmem "github.com/campusops/batchline/internal/infra/storage/jobs/memory"
	"github.com/campusops/batchline/pkg/common/logger"
)

// fakeRoster records inserts and simulates duplicate and systemic failures.
type fakeRoster struct {
	mu         sync.Mutex
	inserted   []string
	duplicates map[string]bool
	systemicOn string

	// afterInsert runs after each successful insert, outside the lock.
	afterInsert func(count int)
}

func (f *fakeRoster) InsertRecord(ctx context.Context, scopeID string, jobType jobs.JobType, rec imports.Record) error {
	f.mu.Lock()
	if f.systemicOn != "" && rec.Identifier == f.systemicOn {
		f.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	if f.duplicates[rec.Identifier] {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", imports.ErrDuplicateRecord, rec.Identifier)
	}
	f.inserted = append(f.inserted, rec.Identifier)
	count := len(f.inserted)
	hook := f.afterInsert
	f.mu.Unlock()

	if hook != nil {
		hook(count)
	}
	return nil
}

func (f *fakeRoster) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeDatasource struct {
	rows []map[string]string
	err  error
}

func (f *fakeDatasource) Query(ctx context.Context, scopeID string, cfg reports.Config) ([]map[string]string, error) {
	return f.rows, f.err
}

func exportFormats(format reports.ExportFormat) (FormatWriter, error) {
	return export.For(format)
}

type executorFixture struct {
	repo      *jobsmem.JobStore
	payloads  *jobsmem.PayloadStore
	roster    *fakeRoster
	source    *fakeDatasource
	artifacts *artifactfs.Store
	publisher *memory.DomainEventPublisher
	executor  *Executor
}

func newExecutorFixture(t *testing.T, progressEvery int) *executorFixture {
	t.Helper()

	artifacts, err := artifactfs.NewStore(t.TempDir(), storage.NoOpTracer())
	require.NoError(t, err)

	f := &executorFixture{
		repo:      jobsmem.NewJobStore(),
		payloads:  jobsmem.NewPayloadStore(),
		roster:    &fakeRoster{duplicates: map[string]bool{}},
		source:    &fakeDatasource{},
		artifacts: artifacts,
		publisher: memory.NewDomainEventPublisher(memory.NewEventBus()),
	}
	f.executor = NewExecutor(ExecutorConfig{
		Logger:        logger.New(io.Discard, logger.LevelInfo, "test", nil),
		Tracer:        storage.NoOpTracer(),
		Repo:          f.repo,
		Payloads:      f.payloads,
		Publisher:     f.publisher,
		Roster:        f.roster,
		Datasource:    f.source,
		Artifacts:     f.artifacts,
		Formats:       exportFormats,
		LeaseFor:      time.Minute,
		Heartbeat:     10 * time.Millisecond,
		ProgressEvery: progressEvery,
	})
	return f
}

func (f *executorFixture) admitImport(t *testing.T, jobType jobs.JobType, records []imports.Record) *jobs.Job {
	t.Helper()
	ctx := context.Background()

	payload, err := imports.EncodeRecords(records)
	require.NoError(t, err)

	id := uuid.New()
	ref, err := f.payloads.Put(ctx, id, payload)
	require.NoError(t, err)

	job := jobs.NewJob(id, jobType, "scope-1", ref, 0, len(records))
	require.NoError(t, f.repo.Create(ctx, job))
	return job
}

func (f *executorFixture) admitReport(t *testing.T, cfg reports.Config) *jobs.Job {
	t.Helper()
	ctx := context.Background()

	payload, err := reports.EncodeConfig(cfg)
	require.NoError(t, err)

	id := uuid.New()
	ref, err := f.payloads.Put(ctx, id, payload)
	require.NoError(t, err)

	job := jobs.NewJob(id, jobs.JobTypeGenerateReport, "scope-1", ref, 0, 1)
	require.NoError(t, f.repo.Create(ctx, job))
	return job
}

func studentRecords(n int) []imports.Record {
	records := make([]imports.Record, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("S-%03d", i)
		records = append(records, imports.Record{
			RowNumber:  i + 2,
			Identifier: id,
			Fields: map[string]string{
				"student_number": id,
				"first_name":     "First",
				"last_name":      "Last",
				"email":          fmt.Sprintf("s%03d@example.edu", i),
			},
		})
	}
	return records
}

func TestExecuteImportIsolatesRecordFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newExecutorFixture(t, 2)
	f.roster.duplicates["S-002"] = true

	job := f.admitImport(t, jobs.JobTypeImportStudents, studentRecords(5))
	claimed, err := f.repo.Claim(ctx, job.ID(), "worker-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.executor.Execute(ctx, claimed, "worker-1"))

	final, err := f.repo.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, final.Status())

	result := final.Result()
	require.NotNil(t, result)
	assert.Equal(t, 4, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	require.Len(t, result.RecordErrors, 1)
	assert.Equal(t, "S-002", result.RecordErrors[0].Identifier)

	assert.Equal(t, 5, final.Progress().Processed)
	assert.Equal(t, 5, final.Progress().Total)
}

func TestExecuteImportSystemicFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newExecutorFixture(t, 2)
	f.roster.systemicOn = "S-003"

	job := f.admitImport(t, jobs.JobTypeImportStudents, studentRecords(5))
	claimed, err := f.repo.Claim(ctx, job.ID(), "worker-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.executor.Execute(ctx, claimed, "worker-1"))

	final, err := f.repo.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, final.Status())
	assert.Contains(t, final.ErrorMessage(), "connection reset")

	// Partial results survive the failure.
	require.NotNil(t, final.Result())
	assert.Equal(t, 3, final.Result().SuccessCount)
}

func TestExecuteImportStopsOnCancellation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newExecutorFixture(t, 1)

	job := f.admitImport(t, jobs.JobTypeImportStudents, studentRecords(5))

	// Cancel after the second record lands; the progress write right after
	// it observes the cleared lease.
	f.roster.afterInsert = func(count int) {
		if count == 2 {
			_, err := f.repo.Cancel(ctx, job.ID())
			require.NoError(t, err)
		}
	}

	claimed, err := f.repo.Claim(ctx, job.ID(), "worker-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.executor.Execute(ctx, claimed, "worker-1"))

	final, err := f.repo.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, final.Status())
	assert.Equal(t, 2, f.roster.insertedCount())
}

func TestExecuteImportAbortsWhenLeaseTakenOver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newExecutorFixture(t, 1)

	job := f.admitImport(t, jobs.JobTypeImportStudents, studentRecords(5))

	// Hand the job to another worker mid-flight; worker-1's next guarded
	// write must fail instead of clobbering worker-2's run.
	f.roster.afterInsert = func(count int) {
		if count == 2 {
			f.forceTakeover(t, job.ID(), "worker-2")
		}
	}

	claimed, err := f.repo.Claim(ctx, job.ID(), "worker-1", time.Minute)
	require.NoError(t, err)

	err = f.executor.Execute(ctx, claimed, "worker-1")
	require.ErrorIs(t, err, jobs.ErrLeaseLost)

	// The first worker wrote no terminal state; the job belongs to worker-2.
	final, getErr := f.repo.Get(ctx, job.ID())
	require.NoError(t, getErr)
	assert.Equal(t, jobs.JobStatusProcessing, final.Status())
	assert.Equal(t, "worker-2", final.LeaseOwner())
}

// forceTakeover moves the job from its current owner to newOwner through
// cancel, retry, and a fresh claim.
func (f *executorFixture) forceTakeover(t *testing.T, id uuid.UUID, newOwner string) {
	t.Helper()
	ctx := context.Background()

	_, err := f.repo.Cancel(ctx, id)
	require.NoError(t, err)
	_, err = f.repo.Retry(ctx, id)
	require.NoError(t, err)
	_, err = f.repo.Claim(ctx, id, newOwner, time.Minute)
	require.NoError(t, err)
}

func TestExecuteReportProducesArtifact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newExecutorFixture(t, 1)
	f.source.rows = []map[string]string{
		{"student_number": "S-001", "last_name": "Baker", "department": "Engineering"},
		{"student_number": "S-002", "last_name": "Adams", "department": "Engineering"},
	}

	job := f.admitReport(t, reports.Config{
		ReportType:   "students",
		Columns:      []string{"student_number", "last_name"},
		SortBy:       "last_name",
		SortOrder:    reports.SortAsc,
		ExportFormat: reports.FormatCSV,
	})

	claimed, err := f.repo.Claim(ctx, job.ID(), "worker-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, claimed, "worker-1"))

	final, err := f.repo.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, final.Status())

	require.NotNil(t, final.Result())
	artifact := final.Result().Artifact
	require.NotNil(t, artifact)
	assert.Equal(t, "text/csv", artifact.ContentType)

	r, err := f.artifacts.Open(ctx, artifact.Ref)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "student_number,last_name\nS-002,Adams\nS-001,Baker\n", string(data))
}

func TestExecuteReportInvalidFormatFailsJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newExecutorFixture(t, 1)

	// Bypass config validation by storing a raw payload with a bad format.
	id := uuid.New()
	ref, err := f.payloads.Put(ctx, id, []byte(`{"reportType":"students","columns":["a"],"exportFormat":"xml"}`))
	require.NoError(t, err)
	job := jobs.NewJob(id, jobs.JobTypeGenerateReport, "scope-1", ref, 0, 1)
	require.NoError(t, f.repo.Create(ctx, job))

	claimed, err := f.repo.Claim(ctx, job.ID(), "worker-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, claimed, "worker-1"))

	final, err := f.repo.Get(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, final.Status())
}
