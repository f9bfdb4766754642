package imports

import (
	"context"
	"errors"

	"github.com/campusops/batchline/internal/domain/jobs"
)

// ErrDuplicateRecord indicates the record's natural key already exists in the
// roster for the scope. This is a record-level failure: it is recorded on the
// job result and processing continues.
var ErrDuplicateRecord = errors.New("record already exists")

// RosterWriter persists validated import records into the institution's
// roster. Implementations must write only within the given scope.
type RosterWriter interface {
	// InsertRecord writes one validated record. A uniqueness conflict is
	// reported as ErrDuplicateRecord; any other error is systemic.
	InsertRecord(ctx context.Context, scopeID string, jobType jobs.JobType, rec Record) error
}
