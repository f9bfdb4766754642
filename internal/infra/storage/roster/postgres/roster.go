// Package postgres provides the roster store: the import target tables that
// bulk import jobs write validated records into.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusops/batchline/internal/domain/imports"
	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/infra/storage"
)

var _ imports.RosterWriter = (*rosterStore)(nil)

// rosterStore writes import records into the per-entity roster tables.
type rosterStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewRosterStore creates a roster store backed by the given connection pool.
func NewRosterStore(pool *pgxpool.Pool, tracer trace.Tracer) *rosterStore {
	return &rosterStore{pool: pool, tracer: tracer}
}

// InsertRecord writes one validated record into the table for the job type.
// A unique-constraint conflict maps to imports.ErrDuplicateRecord so the
// caller can record it as a row-level failure and keep going.
func (s *rosterStore) InsertRecord(
	ctx context.Context,
	scopeID string,
	jobType jobs.JobType,
	rec imports.Record,
) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.insert_roster_record", []attribute.KeyValue{
		attribute.String("scope_id", scopeID),
		attribute.String("job_type", string(jobType)),
		attribute.Int("row_number", rec.RowNumber),
	}, func(ctx context.Context) error {
		var err error
		switch jobType {
		case jobs.JobTypeImportStudents:
			err = s.insertStudent(ctx, scopeID, rec)
		case jobs.JobTypeImportStaff:
			err = s.insertStaff(ctx, scopeID, rec)
		case jobs.JobTypeImportSelfInternships:
			err = s.insertSelfInternship(ctx, scopeID, rec)
		default:
			return fmt.Errorf("job type %s is not an import", jobType)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", imports.ErrDuplicateRecord, rec.Identifier)
		}
		if err != nil {
			return fmt.Errorf("inserting %s record: %w", jobType, err)
		}
		return nil
	})
}

func (s *rosterStore) insertStudent(ctx context.Context, scopeID string, rec imports.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO students (scope_id, student_number, first_name, last_name, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		scopeID,
		rec.Fields["student_number"],
		rec.Fields["first_name"],
		rec.Fields["last_name"],
		normalizeEmail(rec.Fields["email"]),
		emptyToNil(rec.Fields["phone"]),
	)
	return err
}

func (s *rosterStore) insertStaff(ctx context.Context, scopeID string, rec imports.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staff (scope_id, staff_number, first_name, last_name, email, phone, department)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		scopeID,
		rec.Fields["staff_number"],
		rec.Fields["first_name"],
		rec.Fields["last_name"],
		normalizeEmail(rec.Fields["email"]),
		emptyToNil(rec.Fields["phone"]),
		emptyToNil(rec.Fields["department"]),
	)
	return err
}

func (s *rosterStore) insertSelfInternship(ctx context.Context, scopeID string, rec imports.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO self_internships (scope_id, student_number, company_name, position, hr_email, hr_phone)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		scopeID,
		rec.Fields["student_number"],
		rec.Fields["company_name"],
		rec.Fields["position"],
		emptyToNil(normalizeEmail(rec.Fields["hr_email"])),
		emptyToNil(rec.Fields["hr_phone"]),
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func normalizeEmail(v string) string { return strings.ToLower(strings.TrimSpace(v)) }

// emptyToNil maps a blank optional column to SQL NULL.
func emptyToNil(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
