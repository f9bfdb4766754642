// Package jobs binds the job pipeline's HTTP endpoints: batch submission,
// status reads, the cancel/retry controller, dry-run validation, and
// artifact download.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/campusops/batchline/internal/api/errs"
	appjobs "github.com/campusops/batchline/internal/app/jobs"
	"github.com/campusops/batchline/internal/domain/imports"
	domain "github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/pkg/common/logger"
	"github.com/campusops/batchline/pkg/web"
)

const defaultListLimit = 50

// Config contains the dependencies needed by the job handlers.
type Config struct {
	Log       *logger.Logger
	Service   *appjobs.Service
	Artifacts domain.ArtifactStore
}

// Routes binds all the job endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFunc(http.MethodPost, version, "/jobs", submit(cfg))
	app.HandlerFunc(http.MethodGet, version, "/jobs", list(cfg))
	app.HandlerFunc(http.MethodGet, version, "/jobs/{id}", getStatus(cfg))
	app.HandlerFunc(http.MethodPost, version, "/jobs/{id}/cancel", cancel(cfg))
	app.HandlerFunc(http.MethodPost, version, "/jobs/{id}/retry", retry(cfg))
	app.HandlerFunc(http.MethodGet, version, "/jobs/{id}/artifact", artifact(cfg))
	app.HandlerFunc(http.MethodPost, version, "/validate", validate(cfg))
}

// submit handles the request to admit a new job.
func submit(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}
		if err := errs.Check(req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		jobType := domain.ParseJobType(req.Type)
		if jobType == "" {
			return errs.Newf(errs.InvalidArgument, "unknown job type %q", req.Type)
		}

		if jobType == domain.JobTypeGenerateReport {
			if req.Report == nil {
				return errs.Newf(errs.InvalidArgument, "report configuration is required for %s", jobType)
			}
			job, err := cfg.Service.SubmitReport(ctx, req.ScopeID, *req.Report, req.Priority)
			if err != nil {
				return submitError(err)
			}
			return submitResponse{Job: toJobResponse(job), status: http.StatusAccepted}
		}

		if len(req.Rows) == 0 {
			return errs.Newf(errs.InvalidArgument, "rows are required for %s", jobType)
		}

		res, err := cfg.Service.SubmitImport(ctx, appjobs.SubmitImportCommand{
			ScopeID:  req.ScopeID,
			Type:     jobType,
			Rows:     req.Rows,
			Priority: req.Priority,
		})
		if err != nil {
			if errors.Is(err, appjobs.ErrNoValidRecords) {
				return rejectedResponse{
					Message: err.Error(),
					Invalid: toRecordInfos(res.Invalid),
				}
			}
			return submitError(err)
		}

		status := http.StatusAccepted
		if res.Synchronous {
			status = http.StatusOK
		}
		return submitResponse{
			Job:         toJobResponse(res.Job),
			Invalid:     toRecordInfos(res.Invalid),
			Synchronous: res.Synchronous,
			status:      status,
		}
	}
}

func submitError(err error) web.Encoder {
	switch {
	case errors.Is(err, imports.ErrBatchTooLarge),
		errors.Is(err, imports.ErrUnsupportedJobType):
		return errs.New(errs.InvalidArgument, err)
	default:
		return errs.New(errs.Internal, err)
	}
}

// getStatus handles the request for a job's current snapshot.
func getStatus(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		id, err := parseJobID(r)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		job, err := cfg.Service.GetStatus(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		return toJobResponse(job)
	}
}

// list handles the request for a scope's recent jobs.
func list(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		scopeID := r.URL.Query().Get("scopeId")
		if scopeID == "" {
			return errs.Newf(errs.InvalidArgument, "scopeId query parameter is required")
		}

		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				return errs.Newf(errs.InvalidArgument, "invalid limit %q", raw)
			}
			limit = parsed
		}

		list, err := cfg.Service.List(ctx, scopeID, limit)
		if err != nil {
			return errs.New(errs.Internal, err)
		}

		resp := listResponse{Jobs: make([]jobResponse, 0, len(list))}
		for _, job := range list {
			resp.Jobs = append(resp.Jobs, toJobResponse(job))
		}
		return resp
	}
}

// cancel handles the request to cancel a job.
func cancel(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		id, err := parseJobID(r)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		job, err := cfg.Service.Cancel(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		return toJobResponse(job)
	}
}

// retry handles the request to re-admit a failed or cancelled job.
func retry(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		id, err := parseJobID(r)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		job, err := cfg.Service.Retry(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		return toJobResponse(job)
	}
}

// artifact handles the request to download a completed report's output file.
func artifact(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		id, err := parseJobID(r)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		job, err := cfg.Service.GetStatus(ctx, id)
		if err != nil {
			return lookupError(err)
		}

		// Artifacts exist only on completed jobs; anything else is a 404.
		if job.Status() != domain.JobStatusCompleted || job.Result() == nil || job.Result().Artifact == nil {
			return errs.Newf(errs.NotFound, "no artifact for job %s", id)
		}

		ref := job.Result().Artifact.Ref
		reader, err := cfg.Artifacts.Open(ctx, ref)
		if err != nil {
			if errors.Is(err, domain.ErrArtifactNotFound) {
				return errs.New(errs.NotFound, err)
			}
			return errs.New(errs.Internal, err)
		}
		defer reader.Close()

		data, err := io.ReadAll(reader)
		if err != nil {
			return errs.New(errs.Internal, err)
		}
		return artifactResponse{data: data, contentType: job.Result().Artifact.ContentType}
	}
}

// validate handles the dry-run validation request. No job is created.
func validate(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req validateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}
		if err := errs.Check(req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		jobType := domain.ParseJobType(req.Type)
		if jobType == "" {
			return errs.Newf(errs.InvalidArgument, "unknown job type %q", req.Type)
		}

		part, err := cfg.Service.ValidateBatch(jobType, req.Rows)
		if err != nil {
			return submitError(err)
		}
		return validationResponse{
			Valid:   toRecordInfos(part.Valid),
			Invalid: toRecordInfos(part.Invalid),
		}
	}
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := web.Param(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func lookupError(err error) web.Encoder {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return errs.New(errs.NotFound, err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return errs.New(errs.FailedPrecondition, err)
	default:
		return errs.New(errs.Internal, err)
	}
}
