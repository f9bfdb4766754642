package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{name: "pending to processing", from: JobStatusPending, to: JobStatusProcessing},
		{name: "pending to cancelled", from: JobStatusPending, to: JobStatusCancelled},
		{name: "pending to completed", from: JobStatusPending, to: JobStatusCompleted, wantErr: true},
		{name: "processing to completed", from: JobStatusProcessing, to: JobStatusCompleted},
		{name: "processing to failed", from: JobStatusProcessing, to: JobStatusFailed},
		{name: "processing to cancelled", from: JobStatusProcessing, to: JobStatusCancelled},
		{name: "processing to pending (lease requeue)", from: JobStatusProcessing, to: JobStatusPending},
		{name: "failed to pending (retry)", from: JobStatusFailed, to: JobStatusPending},
		{name: "cancelled to pending (retry)", from: JobStatusCancelled, to: JobStatusPending},
		{name: "failed to processing", from: JobStatusFailed, to: JobStatusProcessing, wantErr: true},
		{name: "completed is fully terminal", from: JobStatusCompleted, to: JobStatusPending, wantErr: true},
		{name: "completed to cancelled", from: JobStatusCompleted, to: JobStatusCancelled, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.from.ValidateTransition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}

func TestParseJobStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, JobStatusProcessing, ParseJobStatus("PROCESSING"))
	assert.Equal(t, JobStatus(""), ParseJobStatus("bogus"))
}
