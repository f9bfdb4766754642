package jobs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/batchline/internal/api/mux"
	"github.com/campusops/batchline/internal/api/routes"
	appjobs "github.com/campusops/batchline/internal/app/jobs"
	"github.com/campusops/batchline/internal/domain/imports"
	domain "github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/infra/eventbus/memory"
	"github.com/campusops/batchline/internal/infra/storage"
	artifactfs "github.com/campusops/batchline/internal/infra/storage/artifacts/filesystem"
	jobsmem "github.com/campusops/batchline/internal/infra/storage/jobs/memory"
	"github.com/campusops/batchline/pkg/common/logger"
)

type apiFixture struct {
	repo      *jobsmem.JobStore
	artifacts *artifactfs.Store
	server    *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelInfo, "test", nil)
	repo := jobsmem.NewJobStore()
	payloads := jobsmem.NewPayloadStore()

	artifacts, err := artifactfs.NewStore(t.TempDir(), storage.NoOpTracer())
	require.NoError(t, err)

	svc := appjobs.NewService(appjobs.Config{
		Logger:    log,
		Tracer:    storage.NoOpTracer(),
		Repo:      repo,
		Payloads:  payloads,
		Publisher: memory.NewDomainEventPublisher(memory.NewEventBus()),
		Validator: imports.NewEngine(),
	})

	handler := mux.WebAPI(mux.Config{
		Build:     "test",
		Log:       log,
		Tracer:    storage.NoOpTracer(),
		Jobs:      svc,
		Artifacts: artifacts,
	}, routes.Routes())

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &apiFixture{repo: repo, artifacts: artifacts, server: server}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), "body: %s", data)
	}
	return resp, decoded
}

func submitBody(rows []map[string]string) map[string]any {
	return map[string]any{
		"scopeId": "scope-1",
		"type":    "IMPORT_STUDENTS",
		"rows":    rows,
	}
}

func validRows(n int) []map[string]string {
	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]string{
			"student_number": fmt.Sprintf("S-%03d", i),
			"first_name":     "First",
			"last_name":      "Last",
			"email":          "student@example.edu",
		})
	}
	return rows
}

func TestSubmitAndGetStatus(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/jobs", submitBody(validRows(3)))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	job := body["job"].(map[string]any)
	id := job["id"].(string)
	assert.Equal(t, "PENDING", job["status"])

	resp, body = f.do(t, http.MethodGet, "/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", body["status"])
	progress := body["progress"].(map[string]any)
	assert.EqualValues(t, 3, progress["total"])
	assert.EqualValues(t, 0, progress["processed"])
}

func TestSubmitAllInvalidRejected(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/jobs", submitBody([]map[string]string{
		{"first_name": "NoNumber"},
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, body["invalidRecords"])
}

func TestSubmitMissingRows(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"scopeId": "scope-1",
		"type":    "IMPORT_STUDENTS",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStatusUnknownJob(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/v1/jobs/2b1b8c3e-9f4d-4a64-91cf-5a1c1df01b11", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelRetryFlow(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	_, body := f.do(t, http.MethodPost, "/v1/jobs", submitBody(validRows(2)))
	id := body["job"].(map[string]any)["id"].(string)

	resp, body := f.do(t, http.MethodPost, "/v1/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLED", body["status"])

	// Idempotent cancel.
	resp, _ = f.do(t, http.MethodPost, "/v1/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/v1/jobs/"+id+"/retry", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", body["status"])
	assert.EqualValues(t, 1, body["retryCount"])

	// Retrying a PENDING job conflicts.
	resp, _ = f.do(t, http.MethodPost, "/v1/jobs/"+id+"/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestArtifactDownload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAPIFixture(t)

	_, body := f.do(t, http.MethodPost, "/v1/jobs", submitBody(validRows(1)))
	id := body["job"].(map[string]any)["id"].(string)

	// No artifact while the job is not COMPLETED.
	resp, _ := f.do(t, http.MethodGet, "/v1/jobs/"+id+"/artifact", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Complete the job with an artifact behind the API's back.
	job, err := f.repo.ListByScope(ctx, "scope-1", 1)
	require.NoError(t, err)
	claimed, err := f.repo.Claim(ctx, job[0].ID(), "worker-1", time.Minute)
	require.NoError(t, err)

	artifact, err := f.artifacts.Save(ctx, claimed.ID(), "text/csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, f.repo.Complete(ctx, claimed.ID(), "worker-1", domain.Result{
		SuccessCount: 1,
		Artifact:     &artifact,
	}))

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/v1/jobs/"+id+"/artifact", nil)
	require.NoError(t, err)
	raw, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()

	assert.Equal(t, http.StatusOK, raw.StatusCode)
	assert.Equal(t, "text/csv", raw.Header.Get("Content-Type"))
	data, err := io.ReadAll(raw.Body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestDryRunValidation(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rows := validRows(1)
	rows = append(rows, map[string]string{"student_number": "s-000", "first_name": "Dup", "last_name": "Row", "email": "d@example.edu"})

	resp, body := f.do(t, http.MethodPost, "/v1/validate", map[string]any{
		"type": "IMPORT_STUDENTS",
		"rows": rows,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["valid"], 1)
	assert.Len(t, body["invalid"], 1)

	// No job was created by the dry run.
	listResp, listBody := f.do(t, http.MethodGet, "/v1/jobs?scopeId=scope-1", nil)
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	assert.Empty(t, listBody["jobs"])
}
