package jobs

import "errors"

var (
	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition indicates a requested status change violates the
	// job lifecycle rules (e.g. retrying an in-flight job).
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrNoPendingJobs indicates no claimable work was available.
	ErrNoPendingJobs = errors.New("no pending jobs")

	// ErrLeaseLost indicates a worker attempted a guarded write after its
	// lease was taken over or expired.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrPayloadNotFound indicates the job's payload reference could not be
	// resolved.
	ErrPayloadNotFound = errors.New("job payload not found")

	// ErrArtifactNotFound indicates the job's artifact reference could not be
	// resolved.
	ErrArtifactNotFound = errors.New("job artifact not found")
)
