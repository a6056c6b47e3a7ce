package command

import "github.com/cockroachdb/errors"

// Sentinel errors for the command and synchronization wrappers.
var (
	// ErrPoolCreationFailed indicates the driver could not create a command
	// pool.
	ErrPoolCreationFailed = errors.New("command pool creation failed")

	// ErrAllocationFailed indicates command buffers could not be allocated
	// from a pool.
	ErrAllocationFailed = errors.New("command buffer allocation failed")

	// ErrRecordingFailed indicates a begin/end/reset/record call was
	// rejected by the driver, usually because the buffer was not in the
	// state the call requires.
	ErrRecordingFailed = errors.New("command recording failed")

	// ErrSubmissionFailed indicates a queue submission was rejected.
	ErrSubmissionFailed = errors.New("queue submission failed")

	// ErrSynchronizationFailed indicates a wait or fence operation failed at
	// the driver level.
	ErrSynchronizationFailed = errors.New("synchronization failed")
)
