// Package driver defines the device-driver contract consumed by the
// allocation and transfer subsystem. It is a fixed set of operations over
// opaque handles, designed so that platform-specific Vulkan loaders (or test
// doubles) can be implemented in a mostly straightforward manner.
//
// Descriptor vocabulary that Vulkan wrappers already express well is reused
// from vkngwrapper's core1_0 package; command and synchronization vocabulary
// is declared here.
package driver

import (
	"time"
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Device is the single connection to an underlying driver. It owns the
// connection outright: every handle produced by a Device is valid only while
// that Device is, and the wrapper types in the memory, command, and transfer
// packages hold non-owning references to it. Callers must keep the Device
// alive until every wrapper created from it has been destroyed.
//
// Unless a concrete implementation documents otherwise, a Device is safe for
// use from multiple goroutines, but command pools and the command buffers
// allocated from them must each be driven from one goroutine at a time.
type Device interface {
	// MemoryProperties returns the device's memory type and heap table. The
	// returned value is immutable for the lifetime of the Device.
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties

	// CreateBuffer creates an unbound buffer of the requested size in bytes.
	CreateBuffer(size int, usage core1_0.BufferUsageFlags, sharingMode core1_0.SharingMode) (Buffer, common.VkResult, error)
	// DestroyBuffer destroys a buffer. The buffer must not be referenced by
	// any pending command buffer.
	DestroyBuffer(buffer Buffer) error
	// BufferMemoryRequirements reports the size, alignment, and memory-type
	// compatibility bitmask the device demands for the buffer's backing
	// memory. The reported size may exceed the size the buffer was created
	// with.
	BufferMemoryRequirements(buffer Buffer) core1_0.MemoryRequirements

	// AllocateMemory allocates a block of device memory from the memory type
	// at memoryTypeIndex.
	AllocateMemory(allocationSize int, memoryTypeIndex int) (DeviceMemory, common.VkResult, error)
	// FreeMemory releases a block of device memory. Any mapping is implicitly
	// invalidated.
	FreeMemory(memory DeviceMemory) error
	// BindBufferMemory attaches memory to a buffer at the given byte offset.
	// A buffer may be bound exactly once.
	BindBufferMemory(buffer Buffer, memory DeviceMemory, offset int) (common.VkResult, error)
	// MapMemory maps the whole memory block into the host address space. The
	// memory type the block was allocated from must be host-visible.
	MapMemory(memory DeviceMemory) (unsafe.Pointer, common.VkResult, error)
	// UnmapMemory removes the host mapping established by MapMemory.
	UnmapMemory(memory DeviceMemory) error

	// CreateCommandPool creates a command pool scoped to one queue family.
	CreateCommandPool(queueFamilyIndex int, flags CommandPoolCreateFlags) (CommandPool, common.VkResult, error)
	// DestroyCommandPool destroys a pool and every command buffer allocated
	// from it. No command buffer from the pool may be in flight.
	DestroyCommandPool(pool CommandPool) error
	// AllocateCommandBuffers allocates count primary command buffers.
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, common.VkResult, error)
	// FreeCommandBuffers returns command buffers to their pool.
	FreeCommandBuffers(pool CommandPool, buffers []CommandBuffer) error

	// BeginCommandBuffer moves a command buffer into the recording state.
	BeginCommandBuffer(buffer CommandBuffer, flags CommandBufferUsageFlags) (common.VkResult, error)
	// EndCommandBuffer closes recording, making the buffer submittable.
	// Calling it on a buffer that is not recording is a contract violation
	// surfaced as a driver error.
	EndCommandBuffer(buffer CommandBuffer) (common.VkResult, error)
	// ResetCommandBuffer returns a command buffer to the initial state.
	ResetCommandBuffer(buffer CommandBuffer) (common.VkResult, error)
	// CmdCopyBuffer records a buffer-to-buffer copy into a recording command
	// buffer.
	CmdCopyBuffer(buffer CommandBuffer, src Buffer, dst Buffer, regions []BufferCopy)
	// CmdPipelineBarrier records an execution and memory dependency between
	// commands recorded before and after it.
	CmdPipelineBarrier(buffer CommandBuffer, srcStageMask, dstStageMask PipelineStageFlags, memoryBarriers []MemoryBarrier)

	// Queue retrieves a logical submission channel. The same (family, index)
	// pair always yields a handle to the same underlying queue.
	Queue(queueFamilyIndex, queueIndex int) Queue
	// QueueSubmit submits batches to a queue. If fence is non-nil it becomes
	// signaled once all submitted work completes; if it is nil, completion is
	// not independently observable through this call.
	QueueSubmit(queue Queue, submits []SubmitInfo, fence Fence) (common.VkResult, error)
	// QueueWaitIdle blocks the calling goroutine until the queue has no
	// outstanding work. There is no cancellation hook.
	QueueWaitIdle(queue Queue) (common.VkResult, error)

	// CreateFence creates a fence, optionally in the signaled state.
	CreateFence(flags FenceCreateFlags) (Fence, common.VkResult, error)
	// DestroyFence destroys a fence. No pending submission may reference it.
	DestroyFence(fence Fence) error
	// WaitForFence blocks until the fence is signaled or the timeout elapses.
	// The timeout is reported through signaled=false, not through an error.
	WaitForFence(fence Fence, timeout time.Duration) (signaled bool, res common.VkResult, err error)
	// ResetFence returns a fence to the unsignaled state. It must not be
	// called while a pending submission references the fence.
	ResetFence(fence Fence) (common.VkResult, error)
}

// BufferCopy describes one region of a buffer-to-buffer copy.
type BufferCopy struct {
	SrcOffset int
	DstOffset int
	Size      int
}

// MemoryBarrier describes a global memory dependency: writes covered by
// SrcAccessMask are made available and visible to accesses covered by
// DstAccessMask.
type MemoryBarrier struct {
	SrcAccessMask AccessFlags
	DstAccessMask AccessFlags
}

// SubmitInfo describes one batch of command buffers for QueueSubmit.
type SubmitInfo struct {
	// CommandBuffers are executed in order within the batch.
	CommandBuffers []CommandBuffer

	// WaitSemaphores stall the batch until each semaphore is signaled.
	// WaitDstStageMask must have one entry per wait semaphore naming the
	// stage at which the wait applies.
	WaitSemaphores   []Semaphore
	WaitDstStageMask []PipelineStageFlags

	// SignalSemaphores are signaled once the batch completes.
	SignalSemaphores []Semaphore
}
