package driver

// Raw handle values. Each is an opaque identifier minted by a concrete
// Device; the distinct types keep handle kinds from being mixed up at
// compile time.
type (
	BufferHandle        uintptr
	MemoryHandle        uintptr
	CommandPoolHandle   uintptr
	CommandBufferHandle uintptr
	QueueHandle         uintptr
	FenceHandle         uintptr
	SemaphoreHandle     uintptr
)

// Buffer is an opaque device buffer object.
type Buffer interface {
	Handle() BufferHandle
}

// DeviceMemory is an opaque block of allocated device memory.
type DeviceMemory interface {
	Handle() MemoryHandle
}

// CommandPool is an opaque pool that command buffers are allocated from.
type CommandPool interface {
	Handle() CommandPoolHandle
}

// CommandBuffer is an opaque recorded sequence of device commands.
type CommandBuffer interface {
	Handle() CommandBufferHandle
}

// Queue is an opaque logical submission channel. Queues are retrieved from a
// Device, never created or destroyed through this contract.
type Queue interface {
	Handle() QueueHandle
}

// Fence is an opaque host-observable synchronization object.
type Fence interface {
	Handle() FenceHandle
}

// Semaphore is an opaque device-side synchronization object. The contract
// only consumes semaphores at submission; creating them is the concrete
// driver's affair.
type Semaphore interface {
	Handle() SemaphoreHandle
}
