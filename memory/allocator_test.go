package memory

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"

	"github.com/gpukit/vkmem/driver"
	"github.com/gpukit/vkmem/drivertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func readyAllocator(t *testing.T, options CreateOptions) (*drivertest.Device, *Allocator) {
	device := drivertest.New()
	allocator, err := New(testLogger(), device, options)
	require.NoError(t, err)

	return device, allocator
}

func TestNewRejectsBadDevices(t *testing.T) {
	_, err := New(testLogger(), nil, CreateOptions{})
	require.Error(t, err)

	device := drivertest.NewWithProperties(core1_0.PhysicalDeviceMemoryProperties{})
	_, err = New(testLogger(), device, CreateOptions{})
	require.Error(t, err)
}

func TestAllocateAndDeallocate(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	handleID, err := allocator.Allocate(1024, 1, NewHandleID())
	require.NoError(t, err)
	require.NotEmpty(t, handleID)

	alloc, err := allocator.Get(handleID)
	require.NoError(t, err)
	require.Equal(t, handleID, alloc.HandleID())
	require.Equal(t, 1024, alloc.Size())
	require.Equal(t, 1, alloc.MemoryTypeIndex())
	require.False(t, alloc.IsMapped())

	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1, device.LiveMemories())
	require.Equal(t, 1, allocator.AllocationCount())
	require.Equal(t, 1024, allocator.AllocationBytes())

	err = allocator.Deallocate(handleID)
	require.NoError(t, err)

	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveMemories())
	require.Equal(t, 0, allocator.AllocationCount())
	require.Equal(t, 0, allocator.AllocationBytes())

	_, err = allocator.Get(handleID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAllocateRejectsMalformedRequests(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	_, err := allocator.Allocate(0, 1, NewHandleID())
	require.ErrorIs(t, err, ErrAllocationFailed)

	_, err = allocator.Allocate(-128, 1, NewHandleID())
	require.ErrorIs(t, err, ErrAllocationFailed)

	_, err = allocator.Allocate(1024, 1, "")
	require.ErrorIs(t, err, ErrAllocationFailed)

	_, err = allocator.Allocate(1024, -1, NewHandleID())
	require.ErrorIs(t, err, ErrInvalidMemoryType)

	_, err = allocator.Allocate(1024, 5, NewHandleID())
	require.ErrorIs(t, err, ErrInvalidMemoryType)

	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveMemories())
	require.Equal(t, 0, allocator.AllocationCount())
}

func TestAllocateRejectsDuplicateHandles(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	_, err := allocator.Allocate(512, 1, "tensor-0")
	require.NoError(t, err)

	_, err = allocator.Allocate(512, 1, "tensor-0")
	require.ErrorIs(t, err, ErrAllocationFailed)

	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1, allocator.AllocationCount())
}

func TestAllocateCorrectsIncompatibleMemoryType(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	var allocatedTypes []int
	device.AllocateMemoryFunc = func(allocationSize, memoryTypeIndex int) error {
		allocatedTypes = append(allocatedTypes, memoryTypeIndex)
		return nil
	}

	// Type 0 is device-local only: the allocator must substitute the
	// host-visible type 1 before touching device memory.
	handleID, err := allocator.Allocate(4096, 0, NewHandleID())
	require.NoError(t, err)

	alloc, err := allocator.Get(handleID)
	require.NoError(t, err)
	require.Equal(t, 1, alloc.MemoryTypeIndex())

	require.Equal(t, []int{1}, allocatedTypes)
}

func TestAllocateFailsWithoutHostVisibleType(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	// Restrict compatibility to type 0, which is not host-visible.
	device.SetTypeBits(0b01)

	_, err := allocator.Allocate(1024, 1, NewHandleID())
	require.ErrorIs(t, err, ErrInvalidMemoryType)

	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveMemories())
	require.Equal(t, 0, allocator.AllocationCount())
}

func TestAllocateRollsBackOnMemoryFailure(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	device.AllocateMemoryFunc = func(allocationSize, memoryTypeIndex int) error {
		return errors.New("out of device memory")
	}

	_, err := allocator.Allocate(1024, 1, NewHandleID())
	require.ErrorIs(t, err, ErrAllocationFailed)

	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveMemories())
	require.Equal(t, 0, allocator.AllocationCount())
}

func TestAllocateRollsBackOnBindFailure(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	device.BindBufferMemoryFunc = func(buffer driver.Buffer, memory driver.DeviceMemory) error {
		return errors.New("bind rejected")
	}

	_, err := allocator.Allocate(1024, 1, NewHandleID())
	require.ErrorIs(t, err, ErrAllocationFailed)

	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveMemories())
	require.Equal(t, 0, allocator.AllocationCount())
}

func TestMapIsIdempotent(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	handleID, err := allocator.Allocate(256, 1, NewHandleID())
	require.NoError(t, err)

	ptr1, err := allocator.Map(handleID)
	require.NoError(t, err)
	require.NotNil(t, ptr1)

	ptr2, err := allocator.Map(handleID)
	require.NoError(t, err)
	require.Equal(t, ptr1, ptr2)

	require.Equal(t, 1, device.MapCalls())

	alloc, err := allocator.Get(handleID)
	require.NoError(t, err)
	require.True(t, alloc.IsMapped())
}

func TestUnmapIsANoOpWhenNotMapped(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	handleID, err := allocator.Allocate(256, 1, NewHandleID())
	require.NoError(t, err)

	require.NoError(t, allocator.Unmap(handleID))

	_, err = allocator.Map(handleID)
	require.NoError(t, err)
	require.NoError(t, allocator.Unmap(handleID))
	require.NoError(t, allocator.Unmap(handleID))

	require.Equal(t, 1, device.MapCalls())
}

func TestOperationsOnUnknownHandles(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	_, err := allocator.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = allocator.Map("missing")
	require.ErrorIs(t, err, ErrNotFound)

	err = allocator.Unmap("missing")
	require.ErrorIs(t, err, ErrNotFound)

	err = allocator.Deallocate("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeallocateWhileMapped(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	handleID, err := allocator.Allocate(256, 1, NewHandleID())
	require.NoError(t, err)

	_, err = allocator.Map(handleID)
	require.NoError(t, err)

	err = allocator.Deallocate(handleID)
	require.NoError(t, err)

	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveMemories())
}

func TestDeallocateRemovesRecordDespiteDriverFailure(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	handleID, err := allocator.Allocate(256, 1, NewHandleID())
	require.NoError(t, err)

	device.FreeMemoryFunc = func(memory driver.DeviceMemory) error {
		return errors.New("free rejected")
	}

	err = allocator.Deallocate(handleID)
	require.ErrorIs(t, err, ErrAllocationFailed)

	// The record is gone even though the driver failed.
	_, err = allocator.Get(handleID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, allocator.AllocationCount())
}

func TestAllocatorChurn(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	for i := 0; i < 100; i++ {
		handleID, err := allocator.Allocate(128+i, 1, NewHandleID())
		require.NoError(t, err)

		err = allocator.Deallocate(handleID)
		require.NoError(t, err)
	}

	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveMemories())
	require.Equal(t, 0, allocator.AllocationCount())
	require.Equal(t, 0, allocator.AllocationBytes())
}

func TestExternallySynchronizedAllocator(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{
		Flags: AllocatorCreateExternallySynchronized,
	})

	handleID, err := allocator.Allocate(1024, 1, NewHandleID())
	require.NoError(t, err)

	require.NoError(t, allocator.Deallocate(handleID))
	require.Equal(t, 0, device.LiveBuffers())
}

func TestDestroyReleasesEverything(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	for i := 0; i < 3; i++ {
		_, err := allocator.Allocate(512, 1, NewHandleID())
		require.NoError(t, err)
	}

	handleID, err := allocator.Allocate(512, 1, NewHandleID())
	require.NoError(t, err)
	_, err = allocator.Map(handleID)
	require.NoError(t, err)

	allocator.Destroy()

	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveMemories())
	require.Equal(t, 0, allocator.AllocationCount())
	require.Equal(t, 0, allocator.AllocationBytes())
}

func TestDestroyToleratesDriverFailures(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	for i := 0; i < 3; i++ {
		_, err := allocator.Allocate(512, 1, NewHandleID())
		require.NoError(t, err)
	}

	// Fail exactly one free: the remaining allocations must still be
	// released.
	failed := false
	device.FreeMemoryFunc = func(memory driver.DeviceMemory) error {
		if !failed {
			failed = true
			return errors.New("free rejected")
		}
		return nil
	}

	allocator.Destroy()

	require.True(t, failed)
	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 1, device.LiveMemories())
	require.Equal(t, 0, allocator.AllocationCount())
}
