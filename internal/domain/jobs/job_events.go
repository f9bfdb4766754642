package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/campusops/batchline/internal/domain/events"
)

// Event types for the job lifecycle. Downstream consumers (notifications,
// audit trail) subscribe to these on the event bus.
const (
	EventTypeJobEnqueued  events.EventType = "JobEnqueued"
	EventTypeJobStarted   events.EventType = "JobStarted"
	EventTypeJobCompleted events.EventType = "JobCompleted"
	EventTypeJobFailed    events.EventType = "JobFailed"
	EventTypeJobCancelled events.EventType = "JobCancelled"
	EventTypeJobRetried   events.EventType = "JobRetried"
)

// JobEnqueuedEvent signals that a job was admitted to the queue.
type JobEnqueuedEvent struct {
	occurredAt time.Time

	JobID   uuid.UUID `json:"jobId"`
	Type    JobType   `json:"type"`
	ScopeID string    `json:"scopeId"`
	Total   int       `json:"total"`
}

// NewJobEnqueuedEvent creates a new enqueued event for a job.
func NewJobEnqueuedEvent(job *Job) JobEnqueuedEvent {
	return JobEnqueuedEvent{
		occurredAt: time.Now().UTC(),
		JobID:      job.ID(),
		Type:       job.Type(),
		ScopeID:    job.ScopeID(),
		Total:      job.Progress().Total,
	}
}

func (e JobEnqueuedEvent) EventType() events.EventType { return EventTypeJobEnqueued }
func (e JobEnqueuedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobStartedEvent signals that a worker claimed the job.
type JobStartedEvent struct {
	occurredAt time.Time

	JobID    uuid.UUID `json:"jobId"`
	WorkerID string    `json:"workerId"`
}

// NewJobStartedEvent creates a new started event for a job.
func NewJobStartedEvent(jobID uuid.UUID, workerID string) JobStartedEvent {
	return JobStartedEvent{occurredAt: time.Now().UTC(), JobID: jobID, WorkerID: workerID}
}

func (e JobStartedEvent) EventType() events.EventType { return EventTypeJobStarted }
func (e JobStartedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobTerminalEvent signals that a job reached a terminal status.
type JobTerminalEvent struct {
	occurredAt time.Time
	eventType  events.EventType

	JobID        uuid.UUID `json:"jobId"`
	Status       JobStatus `json:"status"`
	SuccessCount int       `json:"successCount"`
	FailureCount int       `json:"failureCount"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// NewJobTerminalEvent creates a terminal event matching the job's final
// status.
func NewJobTerminalEvent(job *Job) JobTerminalEvent {
	evt := JobTerminalEvent{
		occurredAt:   time.Now().UTC(),
		JobID:        job.ID(),
		Status:       job.Status(),
		ErrorMessage: job.ErrorMessage(),
	}
	if r := job.Result(); r != nil {
		evt.SuccessCount = r.SuccessCount
		evt.FailureCount = r.FailureCount
	}

	switch job.Status() {
	case JobStatusFailed:
		evt.eventType = EventTypeJobFailed
	case JobStatusCancelled:
		evt.eventType = EventTypeJobCancelled
	default:
		evt.eventType = EventTypeJobCompleted
	}
	return evt
}

func (e JobTerminalEvent) EventType() events.EventType { return e.eventType }
func (e JobTerminalEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobRetriedEvent signals that a failed or cancelled job was re-admitted.
type JobRetriedEvent struct {
	occurredAt time.Time

	JobID      uuid.UUID `json:"jobId"`
	RetryCount int       `json:"retryCount"`
}

// NewJobRetriedEvent creates a new retried event for a job.
func NewJobRetriedEvent(jobID uuid.UUID, retryCount int) JobRetriedEvent {
	return JobRetriedEvent{occurredAt: time.Now().UTC(), JobID: jobID, RetryCount: retryCount}
}

func (e JobRetriedEvent) EventType() events.EventType { return EventTypeJobRetried }
func (e JobRetriedEvent) OccurredAt() time.Time       { return e.occurredAt }
