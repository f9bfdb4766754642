package jobs

import "time"

// RecordError captures one record-level failure encountered while processing
// an import job. Record failures are recoverable-and-recorded; they never
// abort the remaining records.
type RecordError struct {
	RowNumber  int      `json:"rowNumber"`
	Identifier string   `json:"identifier"`
	Errors     []string `json:"errors"`
}

// Artifact describes the output file of a completed report job.
type Artifact struct {
	Ref         string    `json:"ref"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Result is the outcome of one processing attempt.
type Result struct {
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	RecordErrors []RecordError `json:"recordErrors,omitempty"`
	Artifact     *Artifact     `json:"artifact,omitempty"`
}

// Attempt archives the outcome of a prior processing attempt so retry never
// loses earlier failure diagnostics.
type Attempt struct {
	Number       int        `json:"number"`
	Status       JobStatus  `json:"status"`
	Result       *Result    `json:"result,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}
