package memory

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"

	"github.com/gpukit/vkmem/driver"
	"github.com/gpukit/vkmem/internal/utils"
)

// Allocator owns the table of live allocations for one device connection.
// Each allocation is a dedicated buffer + device-memory pair created and
// destroyed together.
//
// Unless AllocatorCreateExternallySynchronized is set, the table is guarded
// by an internal mutex and the allocator may be shared across goroutines.
type Allocator struct {
	logger           *slog.Logger
	device           driver.Device
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	createFlags      CreateFlags

	tableMutex  utils.OptionalRWMutex
	allocations *swiss.Map[string, *Allocation]

	// Live totals, maintained with atomics so stats reads don't take the
	// table mutex.
	allocationCount int32
	allocationBytes int64
}

const allocationBufferUsage = core1_0.BufferUsageTransferSrc |
	core1_0.BufferUsageTransferDst |
	core1_0.BufferUsageStorageBuffer

// Allocate creates a buffer of the requested size, allocates a compatible
// block of device memory, binds the two at offset 0, and tables the pair
// under handleID.
//
// memoryTypeIndex must name a memory type that appears in the buffer's
// compatibility bitmask and is host-visible. If it does not, the allocator
// substitutes the lowest-indexed type that does - once, before any memory is
// allocated. When no declared type qualifies, Allocate fails with
// ErrInvalidMemoryType.
//
// On failure, any buffer or memory created during the call has been
// destroyed before Allocate returns.
func (a *Allocator) Allocate(size int, memoryTypeIndex int, handleID string) (_ string, err error) {
	a.logger.Debug("Allocator::Allocate",
		slog.Int("size", size),
		slog.Int("memoryTypeIndex", memoryTypeIndex),
		slog.String("handleID", handleID))

	if size <= 0 {
		return "", errors.Wrapf(ErrAllocationFailed, "requested size %d, but allocations must have a positive size", size)
	}
	if handleID == "" {
		return "", errors.Wrap(ErrAllocationFailed, "handle ID must not be empty")
	}
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(a.memoryProperties.MemoryTypes) {
		return "", errors.Wrapf(ErrInvalidMemoryType, "memory type index %d is outside the device's %d declared types",
			memoryTypeIndex, len(a.memoryProperties.MemoryTypes))
	}

	a.tableMutex.Lock()
	defer a.tableMutex.Unlock()

	if _, exists := a.allocations.Get(handleID); exists {
		return "", errors.Wrapf(ErrAllocationFailed, "handle %q is already in use", handleID)
	}

	buffer, _, err := a.device.CreateBuffer(size, allocationBufferUsage, core1_0.SharingModeExclusive)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "creating a %d-byte backing buffer", size), ErrAllocationFailed)
	}
	defer func() {
		// Unwind the buffer if anything downstream failed
		if err != nil {
			_ = a.device.DestroyBuffer(buffer)
		}
	}()

	memReqs := a.device.BufferMemoryRequirements(buffer)

	chosenIndex := memoryTypeIndex
	if !IsAcceptableType(a.memoryProperties, memReqs.MemoryTypeBits, memoryTypeIndex) {
		corrected, ok := FindHostVisibleType(a.memoryProperties, memReqs.MemoryTypeBits)
		if !ok {
			err = errors.Wrapf(ErrInvalidMemoryType,
				"the buffer's compatibility bitmask 0x%x contains no host-visible memory type", memReqs.MemoryTypeBits)
			return "", err
		}

		a.logger.Debug("Allocator::Allocate correcting incompatible memory type",
			slog.Int("requested", memoryTypeIndex),
			slog.Int("corrected", corrected))
		chosenIndex = corrected
	}

	deviceMemory, _, err := a.device.AllocateMemory(memReqs.Size, chosenIndex)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "allocating %d bytes from memory type %d", memReqs.Size, chosenIndex), ErrAllocationFailed)
	}
	defer func() {
		if err != nil {
			_ = a.device.FreeMemory(deviceMemory)
		}
	}()

	_, err = a.device.BindBufferMemory(buffer, deviceMemory, 0)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "binding the buffer to its memory"), ErrAllocationFailed)
	}

	a.allocations.Put(handleID, &Allocation{
		handleID:        handleID,
		size:            size,
		memoryTypeIndex: chosenIndex,
		buffer:          buffer,
		memory:          deviceMemory,
	})
	atomic.AddInt32(&a.allocationCount, 1)
	atomic.AddInt64(&a.allocationBytes, int64(size))

	return handleID, nil
}

// Get retrieves the live allocation tabled under handleID.
func (a *Allocator) Get(handleID string) (*Allocation, error) {
	a.tableMutex.RLock()
	defer a.tableMutex.RUnlock()

	alloc, exists := a.allocations.Get(handleID)
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "no allocation with handle %q", handleID)
	}

	return alloc, nil
}

// Map maps the allocation's full memory range into host address space and
// returns the host pointer. Mapping is idempotent: if the allocation is
// already mapped, the existing pointer is returned without another driver
// call. The pointer stays valid until Unmap or Deallocate.
func (a *Allocator) Map(handleID string) (unsafe.Pointer, error) {
	a.logger.Debug("Allocator::Map", slog.String("handleID", handleID))

	a.tableMutex.Lock()
	defer a.tableMutex.Unlock()

	alloc, exists := a.allocations.Get(handleID)
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "no allocation with handle %q", handleID)
	}

	if alloc.mappedPtr != nil {
		return alloc.mappedPtr, nil
	}

	ptr, _, err := a.device.MapMemory(alloc.memory)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "mapping allocation %q", handleID), ErrMapFailed)
	}

	alloc.mappedPtr = ptr
	return ptr, nil
}

// Unmap removes the allocation's host mapping. Unmapping an allocation that
// is not mapped is a successful no-op.
func (a *Allocator) Unmap(handleID string) error {
	a.logger.Debug("Allocator::Unmap", slog.String("handleID", handleID))

	a.tableMutex.Lock()
	defer a.tableMutex.Unlock()

	alloc, exists := a.allocations.Get(handleID)
	if !exists {
		return errors.Wrapf(ErrNotFound, "no allocation with handle %q", handleID)
	}

	if alloc.mappedPtr == nil {
		return nil
	}

	if err := a.device.UnmapMemory(alloc.memory); err != nil {
		return errors.Mark(errors.Wrapf(err, "unmapping allocation %q", handleID), ErrMapFailed)
	}

	alloc.mappedPtr = nil
	return nil
}

// Deallocate unmaps the allocation if necessary, destroys its buffer, frees
// its memory, and removes it from the table. The record is removed even when
// a driver call reports a failure - the handles are unrecoverable either
// way - and the first failure is returned.
func (a *Allocator) Deallocate(handleID string) error {
	a.logger.Debug("Allocator::Deallocate", slog.String("handleID", handleID))

	a.tableMutex.Lock()
	defer a.tableMutex.Unlock()

	alloc, exists := a.allocations.Get(handleID)
	if !exists {
		return errors.Wrapf(ErrNotFound, "no allocation with handle %q", handleID)
	}

	a.allocations.Delete(handleID)
	atomic.AddInt32(&a.allocationCount, -1)
	atomic.AddInt64(&a.allocationBytes, -int64(alloc.size))

	return a.releaseAllocation(alloc)
}

// releaseAllocation tears down an allocation's driver resources. Unmap runs
// first so no dangling host mapping outlives the memory. All steps are
// attempted regardless of individual failures; the first failure wins.
func (a *Allocator) releaseAllocation(alloc *Allocation) error {
	var firstErr error

	if alloc.mappedPtr != nil {
		if err := a.device.UnmapMemory(alloc.memory); err != nil {
			firstErr = errors.Mark(errors.Wrapf(err, "unmapping allocation %q", alloc.handleID), ErrMapFailed)
		}
		alloc.mappedPtr = nil
	}

	if err := a.device.DestroyBuffer(alloc.buffer); err != nil && firstErr == nil {
		firstErr = errors.Mark(errors.Wrapf(err, "destroying the buffer of allocation %q", alloc.handleID), ErrAllocationFailed)
	}
	if err := a.device.FreeMemory(alloc.memory); err != nil && firstErr == nil {
		firstErr = errors.Mark(errors.Wrapf(err, "freeing the memory of allocation %q", alloc.handleID), ErrAllocationFailed)
	}

	return firstErr
}

// Destroy force-deallocates every remaining allocation. It is a safety net
// against leaks on abnormal shutdown: individual failures are logged and
// tolerated so the remaining records still get a cleanup attempt. The
// allocator must not be used afterward.
func (a *Allocator) Destroy() {
	a.logger.Debug("Allocator::Destroy")

	a.tableMutex.Lock()
	defer a.tableMutex.Unlock()

	var remaining []*Allocation
	a.allocations.Iter(func(handleID string, alloc *Allocation) bool {
		remaining = append(remaining, alloc)
		return false
	})

	for _, alloc := range remaining {
		a.allocations.Delete(alloc.handleID)
		atomic.AddInt32(&a.allocationCount, -1)
		atomic.AddInt64(&a.allocationBytes, -int64(alloc.size))

		if err := a.releaseAllocation(alloc); err != nil {
			a.logger.Warn("Allocator::Destroy failed to release an allocation",
				slog.String("handleID", alloc.handleID),
				slog.String("error", err.Error()))
		}
	}
}

// AllocationCount returns the number of live allocations.
func (a *Allocator) AllocationCount() int {
	return int(atomic.LoadInt32(&a.allocationCount))
}

// AllocationBytes returns the total requested bytes across live allocations.
func (a *Allocator) AllocationBytes() int {
	return int(atomic.LoadInt64(&a.allocationBytes))
}
