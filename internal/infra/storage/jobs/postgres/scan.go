package postgres

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/campusops/batchline/internal/domain/jobs"
)

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func nullString(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

// prefixedJobColumns qualifies the shared column list with a table alias for
// queries that join.
func prefixedJobColumns(alias string) string {
	cols := strings.Split(jobColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scanJob reconstructs a domain Job from a row holding jobColumns.
func scanJob(row pgx.Row) (*jobs.Job, error) {
	var (
		id           pgtype.UUID
		jobType      string
		scopeID      string
		status       string
		payloadRef   string
		processed    int
		total        int
		resultJSON   []byte
		retryCount   int
		priority     int
		leaseOwner   pgtype.Text
		leaseExpires pgtype.Timestamptz
		createdAt    pgtype.Timestamptz
		startedAt    pgtype.Timestamptz
		completedAt  pgtype.Timestamptz
		errMsg       pgtype.Text
	)

	if err := row.Scan(
		&id, &jobType, &scopeID, &status, &payloadRef, &processed, &total,
		&resultJSON, &retryCount, &priority, &leaseOwner, &leaseExpires,
		&createdAt, &startedAt, &completedAt, &errMsg,
	); err != nil {
		return nil, err
	}

	var result *jobs.Result
	if len(resultJSON) > 0 {
		var r jobs.Result
		if err := json.Unmarshal(resultJSON, &r); err == nil {
			result = &r
		}
	}

	return jobs.ReconstructJob(
		uuid.UUID(id.Bytes),
		jobs.ParseJobType(jobType),
		scopeID,
		jobs.ParseJobStatus(status),
		payloadRef,
		jobs.Progress{Processed: processed, Total: total},
		result,
		nil,
		retryCount,
		priority,
		textOrEmpty(leaseOwner),
		timeOrZero(leaseExpires),
		timeOrZero(createdAt),
		timeOrZero(startedAt),
		timeOrZero(completedAt),
		textOrEmpty(errMsg),
	), nil
}

// withAttempts returns a copy of the job carrying its attempt history.
func withAttempts(job *jobs.Job, attempts []jobs.Attempt) *jobs.Job {
	return jobs.ReconstructJob(
		job.ID(), job.Type(), job.ScopeID(), job.Status(), job.PayloadRef(),
		job.Progress(), job.Result(), attempts, job.RetryCount(), job.Priority(),
		job.LeaseOwner(), job.LeaseExpiresAt(),
		job.CreatedAt(), job.StartedAt(), job.CompletedAt(), job.ErrorMessage(),
	)
}

func textOrEmpty(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}

func timeOrZero(t pgtype.Timestamptz) time.Time {
	if t.Valid {
		return t.Time
	}
	return time.Time{}
}
