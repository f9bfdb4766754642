package imports

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/campusops/batchline/internal/domain/jobs"
)

// MaxBatchSize is the hard cap on rows per import batch. Exceeding it rejects
// the batch before any row-level validation runs.
const MaxBatchSize = 500

var (
	// ErrBatchTooLarge indicates the uploaded batch exceeds MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("maximum batch size exceeded (limit %d rows)", MaxBatchSize)

	// ErrUnsupportedJobType indicates the job type has no import schema.
	ErrUnsupportedJobType = errors.New("unsupported import job type")
)

// Engine validates raw import rows against the per-type schema. It is pure
// and stateless; a single Engine is safe for concurrent use.
type Engine struct {
	validate *validator.Validate
}

// NewEngine constructs a validation engine.
func NewEngine() *Engine {
	return &Engine{validate: validator.New()}
}

// Validate partitions raw rows into valid and invalid records with per-row
// diagnostics. Row numbers are 1-based and offset for the header row.
func (e *Engine) Validate(jobType jobs.JobType, rows []map[string]string) (Partition, error) {
	schema, ok := schemas[jobType]
	if !ok {
		return Partition{}, fmt.Errorf("%w: %s", ErrUnsupportedJobType, jobType)
	}

	if len(rows) > MaxBatchSize {
		return Partition{}, ErrBatchTooLarge
	}

	part := Partition{}
	seen := make(map[string]struct{}, len(rows))

	for i, fields := range rows {
		rec := Record{
			RowNumber:  i + headerRowOffset,
			Identifier: strings.TrimSpace(fields[schema.identifierField]),
			Fields:     fields,
		}

		e.checkFields(schema, &rec)

		// Dedupe by identifier, case-insensitive. The later occurrence is the
		// error; the first row seen keeps its claim on the identifier.
		if rec.Identifier != "" {
			key := strings.ToLower(rec.Identifier)
			if _, dup := seen[key]; dup {
				rec.Errors = append(rec.Errors, fmt.Sprintf("Duplicate %s entry in file", schema.entityName))
			} else {
				seen[key] = struct{}{}
			}
		}

		if len(rec.Errors) > 0 {
			part.Invalid = append(part.Invalid, rec)
			continue
		}
		part.Valid = append(part.Valid, rec)
	}

	return part, nil
}

func (e *Engine) checkFields(schema importSchema, rec *Record) {
	for _, rule := range schema.fields {
		value := strings.TrimSpace(rec.Fields[rule.name])

		if value == "" {
			if rule.required {
				rec.Errors = append(rec.Errors, fmt.Sprintf("Missing required field: %s", rule.name))
			}
			continue
		}

		var problem string
		switch rule.format {
		case formatEmail:
			if err := e.validate.Var(value, "email"); err != nil {
				problem = fmt.Sprintf("Invalid email format: %s", rule.name)
			}
		case formatPhone:
			if !validPhone(value) {
				problem = fmt.Sprintf("Invalid phone number: %s", rule.name)
			}
		}

		if problem == "" {
			continue
		}
		if rule.secondary {
			rec.Warnings = append(rec.Warnings, problem)
			continue
		}
		rec.Errors = append(rec.Errors, problem)
	}
}

// validPhone accepts 10 to 15 digits after stripping the usual separators.
func validPhone(value string) bool {
	digits := 0
	for i, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 15
}
