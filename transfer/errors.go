package transfer

import "github.com/cockroachdb/errors"

// Sentinel errors for the transfer engine.
var (
	// ErrInvalidSize indicates a transfer that would read or write past the
	// bounds of an allocation.
	ErrInvalidSize = errors.New("transfer size exceeds allocation bounds")

	// ErrStagingFailed indicates the temporary staging buffer or its memory
	// could not be created, bound, or mapped.
	ErrStagingFailed = errors.New("staging buffer failed")

	// ErrCopyFailed indicates the copy commands could not be recorded or
	// submitted.
	ErrCopyFailed = errors.New("copy failed")

	// ErrSynchronizationFailed indicates the wait for transfer completion
	// failed at the driver level.
	ErrSynchronizationFailed = errors.New("transfer synchronization failed")
)
