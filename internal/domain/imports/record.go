// Package imports contains the validation engine for bulk import batches: a
// pure partitioning of raw tabular rows into valid and invalid records with
// per-row diagnostics. It has no side effects and no persistence, so it is
// safe to re-run as a dry-run preview before a job is ever created.
package imports

// headerRowOffset accounts for the header row of the uploaded file: the first
// data row is row 2 from the user's point of view.
const headerRowOffset = 2

// Record is one row of an import batch after validation. It carries its own
// errors and warnings independent of any job; a record with errors is never
// handed to a worker for mutation.
type Record struct {
	// RowNumber is the 1-based row position in the uploaded file, offset for
	// the header row.
	RowNumber int `json:"rowNumber"`

	// Identifier is the best available natural key for the row (student
	// number, staff number, ...). Empty when the identifying field is missing.
	Identifier string `json:"identifier"`

	// Fields holds the raw row values keyed by column name.
	Fields map[string]string `json:"fields"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Partition is the outcome of validating a batch: every input row lands in
// exactly one of the two sides, so len(Valid)+len(Invalid) always equals the
// input row count.
type Partition struct {
	Valid   []Record `json:"valid"`
	Invalid []Record `json:"invalid"`
}
