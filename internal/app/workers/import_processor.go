package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusops/batchline/internal/domain/imports"
	"github.com/campusops/batchline/internal/domain/jobs"
)

// processImport writes every record of an import batch independently. A
// record-level failure (duplicate in the roster) is recorded on the result
// and the remaining records still run; only a systemic error aborts the
// batch. Progress persists in batches and on the final record.
func (e *Executor) processImport(ctx context.Context, job *jobs.Job, workerID string) (jobs.Result, error) {
	var result jobs.Result

	payload, err := e.payloads.Get(ctx, job.PayloadRef())
	if err != nil {
		return result, fmt.Errorf("loading import payload: %w", err)
	}
	records, err := imports.DecodeRecords(payload)
	if err != nil {
		return result, err
	}

	processed := 0
	for _, rec := range records {
		// Cancellation and lease loss surface here, between records. A
		// record in flight always finishes.
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		insertErr := e.roster.InsertRecord(ctx, job.ScopeID(), job.Type(), rec)
		switch {
		case insertErr == nil:
			result.SuccessCount++
		case errors.Is(insertErr, imports.ErrDuplicateRecord):
			result.FailureCount++
			result.RecordErrors = append(result.RecordErrors, jobs.RecordError{
				RowNumber:  rec.RowNumber,
				Identifier: rec.Identifier,
				Errors:     []string{insertErr.Error()},
			})
		default:
			return result, fmt.Errorf("writing record at row %d: %w", rec.RowNumber, insertErr)
		}

		processed++
		if processed%e.progressEvery == 0 && processed < len(records) {
			if err := e.repo.UpdateProgress(ctx, job.ID(), workerID, processed); err != nil {
				if errors.Is(err, jobs.ErrLeaseLost) {
					// The guard fires for both takeover and cancellation;
					// resolve which before reporting.
					return result, e.classifyAbort(ctx, job.ID(), err)
				}
				return result, err
			}
		}
	}

	return result, nil
}
