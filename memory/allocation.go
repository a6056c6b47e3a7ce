package memory

import (
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/gpukit/vkmem/driver"
)

// Allocation is one live entry in the allocator's table: a buffer bound to a
// dedicated block of device memory, referenced by an opaque handle ID. The
// buffer and memory are created together and destroyed together.
//
// Allocations are owned exclusively by the Allocator that created them and
// become invalid after Deallocate or Destroy.
type Allocation struct {
	handleID        string
	size            int
	memoryTypeIndex int

	buffer driver.Buffer
	memory driver.DeviceMemory

	// Non-nil exactly while the allocation is mapped.
	mappedPtr unsafe.Pointer
}

// HandleID returns the opaque identifier the allocation is tabled under.
func (a *Allocation) HandleID() string {
	return a.handleID
}

// Size returns the byte size the allocation was requested with. The backing
// memory block may be larger; transfers are bounded by this value.
func (a *Allocation) Size() int {
	return a.size
}

// MemoryTypeIndex returns the memory type the backing block was allocated
// from, after any compatibility correction.
func (a *Allocation) MemoryTypeIndex() int {
	return a.memoryTypeIndex
}

// Buffer returns the allocation's buffer handle. The handle remains owned by
// the allocation.
func (a *Allocation) Buffer() driver.Buffer {
	return a.buffer
}

// DeviceMemory returns the allocation's memory handle. The handle remains
// owned by the allocation.
func (a *Allocation) DeviceMemory() driver.DeviceMemory {
	return a.memory
}

// IsMapped reports whether the allocation currently has a host mapping.
func (a *Allocation) IsMapped() bool {
	return a.mappedPtr != nil
}

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("HandleID").String(a.handleID)
	json.Name("Size").Int(a.size)
	json.Name("MemoryTypeIndex").Int(a.memoryTypeIndex)
	json.Name("Mapped").Bool(a.mappedPtr != nil)
}
