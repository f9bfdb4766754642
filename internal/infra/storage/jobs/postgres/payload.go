package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/infra/storage"
)

var _ jobs.PayloadStore = (*payloadStore)(nil)

// payloadStore persists job payloads (validated record sets, report configs)
// keyed by job ID. The payload reference stored on the job row is the job ID
// itself; the indirection keeps the job row lean and the payload immutable.
type payloadStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewPayloadStore creates a PayloadStore backed by PostgreSQL.
func NewPayloadStore(pool *pgxpool.Pool, tracer trace.Tracer) *payloadStore {
	return &payloadStore{pool: pool, tracer: tracer}
}

// Put stores the payload bytes for a job and returns the opaque reference.
func (s *payloadStore) Put(ctx context.Context, jobID uuid.UUID, payload []byte) (string, error) {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.Int("payload_bytes", len(payload)),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_job_payload", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO job_payloads (job_id, payload)
			VALUES ($1, $2)
			ON CONFLICT (job_id) DO UPDATE SET payload = EXCLUDED.payload`,
			pgUUID(jobID), payload,
		)
		if err != nil {
			return fmt.Errorf("insert job payload: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return jobID.String(), nil
}

// Get resolves a payload reference.
func (s *payloadStore) Get(ctx context.Context, ref string) ([]byte, error) {
	jobID, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ref %q", jobs.ErrPayloadNotFound, ref)
	}

	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var payload []byte
	err = storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_job_payload", dbAttrs, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, `SELECT payload FROM job_payloads WHERE job_id = $1`, pgUUID(jobID)).Scan(&payload)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return jobs.ErrPayloadNotFound
			}
			return fmt.Errorf("query job payload: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}
