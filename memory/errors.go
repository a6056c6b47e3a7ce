package memory

import "github.com/cockroachdb/errors"

// Sentinel errors for the allocator. Returned errors wrap one of these, so
// callers classify with errors.Is while the driver-level cause stays in the
// chain.
var (
	// ErrAllocationFailed indicates buffer creation, memory allocation, or
	// binding failed, or that the request itself was malformed.
	ErrAllocationFailed = errors.New("memory allocation failed")

	// ErrNotFound indicates a handle that is not in the allocation table.
	ErrNotFound = errors.New("allocation not found")

	// ErrInvalidMemoryType indicates no host-visible memory type satisfies
	// the buffer's compatibility requirements.
	ErrInvalidMemoryType = errors.New("no compatible host-visible memory type")

	// ErrMapFailed indicates a host mapping could not be established or
	// removed.
	ErrMapFailed = errors.New("memory mapping failed")
)
