// Package postgres implements the report datasource over the roster tables.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusops/batchline/internal/domain/reports"
	"github.com/campusops/batchline/internal/infra/storage"
)

var _ reports.Datasource = (*datasource)(nil)

// reportTables allow-lists the queryable datasets. Report types and column
// names never reach SQL text directly; everything is resolved through this
// table first.
var reportTables = map[string]tableSpec{
	"students": {
		table:   "students",
		columns: []string{"student_number", "first_name", "last_name", "email", "phone"},
	},
	"staff": {
		table:   "staff",
		columns: []string{"staff_number", "first_name", "last_name", "email", "phone", "department"},
	},
	"self_internships": {
		table:   "self_internships",
		columns: []string{"student_number", "company_name", "position", "hr_email", "hr_phone"},
	},
}

type tableSpec struct {
	table   string
	columns []string
}

func (s tableSpec) hasColumn(name string) bool {
	for _, c := range s.columns {
		if c == name {
			return true
		}
	}
	return false
}

// datasource reads scoped roster rows for report generation.
type datasource struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewDatasource creates a report datasource backed by the given pool.
func NewDatasource(pool *pgxpool.Pool, tracer trace.Tracer) *datasource {
	return &datasource{pool: pool, tracer: tracer}
}

// Query returns every roster row of the report's dataset within the scope,
// one map per row keyed by column name. Filtering, grouping, and sorting are
// applied downstream by the assembler, so the query always selects the full
// allow-listed column set.
func (d *datasource) Query(ctx context.Context, scopeID string, cfg reports.Config) ([]map[string]string, error) {
	spec, ok := reportTables[cfg.ReportType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown report type %q", reports.ErrInvalidConfig, cfg.ReportType)
	}
	for _, col := range cfg.Columns {
		if !spec.hasColumn(col) {
			return nil, fmt.Errorf("%w: column %q does not exist on %s", reports.ErrInvalidConfig, col, cfg.ReportType)
		}
	}

	var rows []map[string]string
	err := storage.ExecuteAndTrace(ctx, d.tracer, "postgres.query_report_rows", []attribute.KeyValue{
		attribute.String("scope_id", scopeID),
		attribute.String("report_type", cfg.ReportType),
	}, func(ctx context.Context) error {
		query := fmt.Sprintf(
			"SELECT %s FROM %s WHERE scope_id = $1",
			strings.Join(spec.columns, ", "),
			spec.table,
		)

		pgRows, err := d.pool.Query(ctx, query, scopeID)
		if err != nil {
			return fmt.Errorf("querying %s: %w", spec.table, err)
		}
		defer pgRows.Close()

		for pgRows.Next() {
			values := make([]*string, len(spec.columns))
			dest := make([]any, len(spec.columns))
			for i := range values {
				dest[i] = &values[i]
			}
			if err := pgRows.Scan(dest...); err != nil {
				return fmt.Errorf("scanning %s row: %w", spec.table, err)
			}

			row := make(map[string]string, len(spec.columns))
			for i, col := range spec.columns {
				if values[i] != nil {
					row[col] = *values[i]
				} else {
					row[col] = ""
				}
			}
			rows = append(rows, row)
		}
		return pgRows.Err()
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
