package jobs

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/campusops/batchline/internal/domain/imports"
	domain "github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/domain/reports"
)

// submitRequest represents the payload for submitting a job. Import jobs
// carry their rows inline; report jobs carry a report configuration.
type submitRequest struct {
	ScopeID  string `json:"scopeId" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=IMPORT_STUDENTS IMPORT_STAFF IMPORT_SELF_INTERNSHIPS GENERATE_REPORT"`
	Priority int    `json:"priority" validate:"min=0"`

	Rows   []map[string]string `json:"rows,omitempty"`
	Report *reports.Config     `json:"report,omitempty"`
}

// validateRequest represents the payload for a dry-run validation.
type validateRequest struct {
	Type string              `json:"type" validate:"required,oneof=IMPORT_STUDENTS IMPORT_STAFF IMPORT_SELF_INTERNSHIPS"`
	Rows []map[string]string `json:"rows" validate:"required"`
}

// progressInfo reports how far a job has moved.
type progressInfo struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// recordErrorInfo is one record-level failure on a job result.
type recordErrorInfo struct {
	RowNumber  int      `json:"rowNumber"`
	Identifier string   `json:"identifier"`
	Errors     []string `json:"errors"`
}

// artifactInfo describes a report job's output file.
type artifactInfo struct {
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// resultInfo is the outcome of a processing attempt.
type resultInfo struct {
	SuccessCount int               `json:"successCount"`
	FailureCount int               `json:"failureCount"`
	RecordErrors []recordErrorInfo `json:"recordErrors,omitempty"`
	Artifact     *artifactInfo     `json:"artifact,omitempty"`
}

// attemptInfo archives a prior processing attempt.
type attemptInfo struct {
	Number       int         `json:"number"`
	Status       string      `json:"status"`
	Result       *resultInfo `json:"result,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	EndedAt      *time.Time  `json:"endedAt,omitempty"`
}

// jobResponse is the full job snapshot returned by status reads.
type jobResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	ScopeID      string        `json:"scopeId"`
	Status       string        `json:"status"`
	Progress     progressInfo  `json:"progress"`
	Result       *resultInfo   `json:"result,omitempty"`
	Attempts     []attemptInfo `json:"attempts,omitempty"`
	RetryCount   int           `json:"retryCount"`
	Priority     int           `json:"priority"`
	CreatedAt    time.Time     `json:"createdAt"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// Encode implements the web.Encoder interface.
func (jr jobResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(jr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func toResultInfo(r *domain.Result) *resultInfo {
	if r == nil {
		return nil
	}
	out := &resultInfo{
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
	}
	for _, re := range r.RecordErrors {
		out.RecordErrors = append(out.RecordErrors, recordErrorInfo(re))
	}
	if r.Artifact != nil {
		out.Artifact = &artifactInfo{
			ContentType: r.Artifact.ContentType,
			Size:        r.Artifact.Size,
			CreatedAt:   r.Artifact.CreatedAt,
		}
	}
	return out
}

func toJobResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		ID:           job.ID().String(),
		Type:         job.Type().String(),
		ScopeID:      job.ScopeID(),
		Status:       job.Status().String(),
		Progress:     progressInfo{Processed: job.Progress().Processed, Total: job.Progress().Total},
		Result:       toResultInfo(job.Result()),
		RetryCount:   job.RetryCount(),
		Priority:     job.Priority(),
		CreatedAt:    job.CreatedAt(),
		ErrorMessage: job.ErrorMessage(),
	}
	if t := job.StartedAt(); !t.IsZero() {
		resp.StartedAt = &t
	}
	if t := job.CompletedAt(); !t.IsZero() {
		resp.CompletedAt = &t
	}
	for _, a := range job.Attempts() {
		resp.Attempts = append(resp.Attempts, attemptInfo{
			Number:       a.Number,
			Status:       a.Status.String(),
			Result:       toResultInfo(a.Result),
			ErrorMessage: a.ErrorMessage,
			EndedAt:      a.EndedAt,
		})
	}
	return resp
}

// submitResponse reports the admitted job and any rows that failed
// validation. Synchronous submissions return the terminal snapshot directly.
type submitResponse struct {
	Job         jobResponse  `json:"job"`
	Invalid     []recordInfo `json:"invalidRecords,omitempty"`
	Synchronous bool         `json:"synchronous"`
	status      int
}

// Encode implements the web.Encoder interface.
func (sr submitResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(sr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (sr submitResponse) HTTPStatus() int { return sr.status }

// recordInfo is one validated row with its diagnostics.
type recordInfo struct {
	RowNumber  int               `json:"rowNumber"`
	Identifier string            `json:"identifier"`
	Fields     map[string]string `json:"fields,omitempty"`
	Errors     []string          `json:"errors,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

func toRecordInfos(records []imports.Record) []recordInfo {
	out := make([]recordInfo, 0, len(records))
	for _, r := range records {
		out = append(out, recordInfo{
			RowNumber:  r.RowNumber,
			Identifier: r.Identifier,
			Fields:     r.Fields,
			Errors:     r.Errors,
			Warnings:   r.Warnings,
		})
	}
	return out
}

// validationResponse is the outcome of a dry-run validation.
type validationResponse struct {
	Valid   []recordInfo `json:"valid"`
	Invalid []recordInfo `json:"invalid"`
}

// Encode implements the web.Encoder interface.
func (vr validationResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(vr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// rejectedResponse is returned when every row of a batch fails validation.
// No job was created.
type rejectedResponse struct {
	Message string       `json:"message"`
	Invalid []recordInfo `json:"invalidRecords"`
}

// Encode implements the web.Encoder interface.
func (rr rejectedResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (rr rejectedResponse) HTTPStatus() int { return http.StatusUnprocessableEntity }

// listResponse wraps a scope's job listing.
type listResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

// Encode implements the web.Encoder interface.
func (lr listResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(lr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// artifactResponse streams an artifact's raw bytes with its content type.
type artifactResponse struct {
	data        []byte
	contentType string
}

// Encode implements the web.Encoder interface.
func (ar artifactResponse) Encode() ([]byte, string, error) {
	return ar.data, ar.contentType, nil
}
