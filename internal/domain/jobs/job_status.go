package jobs

import "fmt"

// JobStatus represents the current state of a job. It enables tracking of the
// job lifecycle from submission through completion, failure, or cancellation.
type JobStatus string

const (
	// JobStatusPending indicates a job has been admitted but not yet claimed
	// by a worker.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusProcessing indicates a worker holds the lease and is actively
	// processing the job.
	JobStatusProcessing JobStatus = "PROCESSING"

	// JobStatusCompleted indicates the job finished. Import jobs may complete
	// with record-level failures recorded in the result.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed indicates the job encountered a systemic error.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates the job was cancelled by request.
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status permits no further mutation except an
// explicit retry.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "PENDING":
		return JobStatusPending
	case "PROCESSING":
		return JobStatusProcessing
	case "COMPLETED":
		return JobStatusCompleted
	case "FAILED":
		return JobStatusFailed
	case "CANCELLED":
		return JobStatusCancelled
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, target)
	}
	return nil
}

// isValidTransition enforces the job lifecycle rules to prevent invalid state
// changes.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		// A pending job is either claimed by a worker or cancelled.
		return target == JobStatusProcessing || target == JobStatusCancelled
	case JobStatusProcessing:
		// The owning worker completes or fails the job; a cancel request or a
		// lease-expiry requeue may also move it out of processing.
		return target == JobStatusCompleted ||
			target == JobStatusFailed ||
			target == JobStatusCancelled ||
			target == JobStatusPending
	case JobStatusFailed, JobStatusCancelled:
		// Terminal, but an explicit retry re-admits the job.
		return target == JobStatusPending
	case JobStatusCompleted:
		// Fully terminal.
		return false
	default:
		return false
	}
}
