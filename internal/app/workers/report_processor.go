package workers

import (
	"context"
	"fmt"

	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/domain/reports"
)

// processReport runs a report job as a single pass: load the configuration
// from the payload, query the scoped rows, assemble the table, render it in
// the requested format, and store the artifact.
func (e *Executor) processReport(ctx context.Context, job *jobs.Job, workerID string) (jobs.Result, error) {
	var result jobs.Result

	payload, err := e.payloads.Get(ctx, job.PayloadRef())
	if err != nil {
		return result, fmt.Errorf("loading report payload: %w", err)
	}
	cfg, err := reports.DecodeConfig(payload)
	if err != nil {
		return result, err
	}

	rows, err := e.datasource.Query(ctx, job.ScopeID(), cfg)
	if err != nil {
		return result, fmt.Errorf("querying report rows: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	table, err := reports.Assemble(cfg, rows)
	if err != nil {
		return result, err
	}

	writer, err := e.formats(cfg.ExportFormat)
	if err != nil {
		return result, err
	}
	data, contentType, err := writer.Write(*table)
	if err != nil {
		return result, fmt.Errorf("rendering %s report: %w", cfg.ExportFormat, err)
	}

	artifact, err := e.artifacts.Save(ctx, job.ID(), contentType, data)
	if err != nil {
		return result, fmt.Errorf("storing report artifact: %w", err)
	}

	result.SuccessCount = 1
	result.Artifact = &artifact
	return result, nil
}
