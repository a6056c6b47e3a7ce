// Package drivertest provides a functional in-memory implementation of
// driver.Device for tests. Buffers and memory blocks are backed by real byte
// slices and recorded copy commands execute against them at submission, so
// transfer round trips move actual bytes. The fake also tracks live resource
// counts and exposes per-operation hooks for failure injection.
package drivertest

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/gpukit/vkmem/driver"
)

type fakeBuffer driver.BufferHandle

func (b fakeBuffer) Handle() driver.BufferHandle { return driver.BufferHandle(b) }

type fakeMemory driver.MemoryHandle

func (m fakeMemory) Handle() driver.MemoryHandle { return driver.MemoryHandle(m) }

type fakePool driver.CommandPoolHandle

func (p fakePool) Handle() driver.CommandPoolHandle { return driver.CommandPoolHandle(p) }

type fakeCommandBuffer driver.CommandBufferHandle

func (c fakeCommandBuffer) Handle() driver.CommandBufferHandle { return driver.CommandBufferHandle(c) }

type fakeQueue driver.QueueHandle

func (q fakeQueue) Handle() driver.QueueHandle { return driver.QueueHandle(q) }

type fakeFence driver.FenceHandle

func (f fakeFence) Handle() driver.FenceHandle { return driver.FenceHandle(f) }

type bufferState struct {
	size  int
	usage core1_0.BufferUsageFlags

	bound       *memoryState
	boundOffset int
}

type memoryState struct {
	typeIndex int
	data      []byte
	mapped    bool
}

type poolState struct {
	queueFamilyIndex int
	buffers          map[driver.CommandBufferHandle]struct{}
}

type commandState struct {
	pool       driver.CommandPoolHandle
	recording  bool
	executable bool
	invalid    bool
	commands   []func() error
}

type fenceState struct {
	signaled bool
}

// Device is a fake driver.Device. The zero value is not usable; construct
// one with New or NewWithProperties.
//
// The XxxFunc hook fields may be set by tests to observe or fail individual
// operations: a hook runs before the fake's own bookkeeping and a non-nil
// returned error fails the call without touching state. Hooks must be set
// before the device is shared between goroutines.
type Device struct {
	// Failure-injection and observation hooks.
	CreateBufferFunc     func(size int, usage core1_0.BufferUsageFlags) error
	DestroyBufferFunc    func(buffer driver.Buffer) error
	AllocateMemoryFunc   func(allocationSize, memoryTypeIndex int) error
	FreeMemoryFunc       func(memory driver.DeviceMemory) error
	BindBufferMemoryFunc func(buffer driver.Buffer, memory driver.DeviceMemory) error
	MapMemoryFunc        func(memory driver.DeviceMemory) error
	SubmitFunc           func() error
	WaitIdleFunc         func() error

	mu         sync.Mutex
	properties core1_0.PhysicalDeviceMemoryProperties
	typeBits   uint32

	nextHandle uintptr
	buffers    map[driver.BufferHandle]*bufferState
	memories   map[driver.MemoryHandle]*memoryState
	pools      map[driver.CommandPoolHandle]*poolState
	commands   map[driver.CommandBufferHandle]*commandState
	fences     map[driver.FenceHandle]*fenceState

	calls    int
	mapCalls int
}

var _ driver.Device = (*Device)(nil)

// DefaultMemoryProperties declares two memory types: type 0 is device-local
// only and type 1 is host-visible and coherent. Allocations that must be
// host-visible therefore land on type 1.
func DefaultMemoryProperties() core1_0.PhysicalDeviceMemoryProperties {
	return core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{
				PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
				HeapIndex:     0,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
				HeapIndex:     1,
			},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{
				Size:  1 << 30,
				Flags: core1_0.MemoryHeapDeviceLocal,
			},
			{
				Size: 1 << 30,
			},
		},
	}
}

// New creates a fake device with DefaultMemoryProperties.
func New() *Device {
	return NewWithProperties(DefaultMemoryProperties())
}

// NewWithProperties creates a fake device declaring the given memory table.
// Every buffer's compatibility bitmask initially includes all declared
// types; restrict it with SetTypeBits.
func NewWithProperties(properties core1_0.PhysicalDeviceMemoryProperties) *Device {
	return &Device{
		properties: properties,
		typeBits:   uint32(1)<<uint(len(properties.MemoryTypes)) - 1,

		buffers:  make(map[driver.BufferHandle]*bufferState),
		memories: make(map[driver.MemoryHandle]*memoryState),
		pools:    make(map[driver.CommandPoolHandle]*poolState),
		commands: make(map[driver.CommandBufferHandle]*commandState),
		fences:   make(map[driver.FenceHandle]*fenceState),
	}
}

// SetTypeBits overrides the memory-type compatibility bitmask reported by
// BufferMemoryRequirements for every buffer.
func (d *Device) SetTypeBits(typeBits uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typeBits = typeBits
}

// Calls returns the total number of driver operations invoked on the fake.
func (d *Device) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// MapCalls returns how many times MapMemory has been invoked.
func (d *Device) MapCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapCalls
}

// LiveBuffers returns the number of created-but-not-destroyed buffers.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// LiveMemories returns the number of allocated-but-not-freed memory blocks.
func (d *Device) LiveMemories() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.memories)
}

// LiveCommandBuffers returns the number of outstanding command buffers.
func (d *Device) LiveCommandBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

// MemoryBytes returns a copy of the backing bytes of an allocated memory
// block, for white-box assertions.
func (d *Device) MemoryBytes(memory driver.DeviceMemory) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.memories[memory.Handle()]
	if !ok {
		return nil
	}

	data := make([]byte, len(state.data))
	copy(data, state.data)
	return data
}

func (d *Device) newHandle() uintptr {
	d.nextHandle++
	return d.nextHandle
}

const requirementsAlignment = 64

func alignUp(size, alignment int) int {
	return (size + alignment - 1) / alignment * alignment
}

// MemoryProperties implements driver.Device.
func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &d.properties
}

// CreateBuffer implements driver.Device.
func (d *Device) CreateBuffer(size int, usage core1_0.BufferUsageFlags, sharingMode core1_0.SharingMode) (driver.Buffer, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.CreateBufferFunc != nil {
		if err := d.CreateBufferFunc(size, usage); err != nil {
			return nil, core1_0.VKErrorUnknown, err
		}
	}
	if size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("cannot create a buffer of size %d", size)
	}

	handle := driver.BufferHandle(d.newHandle())
	d.buffers[handle] = &bufferState{
		size:  size,
		usage: usage,
	}

	return fakeBuffer(handle), core1_0.VKSuccess, nil
}

// DestroyBuffer implements driver.Device.
func (d *Device) DestroyBuffer(buffer driver.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.DestroyBufferFunc != nil {
		if err := d.DestroyBufferFunc(buffer); err != nil {
			return err
		}
	}
	if _, ok := d.buffers[buffer.Handle()]; !ok {
		return errors.Newf("destroying unknown buffer %x", buffer.Handle())
	}

	delete(d.buffers, buffer.Handle())
	return nil
}

// BufferMemoryRequirements implements driver.Device. The reported size is
// the buffer's size rounded up to a 64-byte alignment, exercising the
// "required size may exceed requested size" path in consumers.
func (d *Device) BufferMemoryRequirements(buffer driver.Buffer) core1_0.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.buffers[buffer.Handle()]
	if !ok {
		return core1_0.MemoryRequirements{}
	}

	return core1_0.MemoryRequirements{
		Size:           alignUp(state.size, requirementsAlignment),
		Alignment:      requirementsAlignment,
		MemoryTypeBits: d.typeBits,
	}
}

// AllocateMemory implements driver.Device.
func (d *Device) AllocateMemory(allocationSize int, memoryTypeIndex int) (driver.DeviceMemory, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.AllocateMemoryFunc != nil {
		if err := d.AllocateMemoryFunc(allocationSize, memoryTypeIndex); err != nil {
			return nil, core1_0.VKErrorOutOfDeviceMemory, err
		}
	}
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(d.properties.MemoryTypes) {
		return nil, core1_0.VKErrorUnknown, errors.Newf("memory type index %d out of range", memoryTypeIndex)
	}
	if allocationSize <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("cannot allocate %d bytes", allocationSize)
	}

	handle := driver.MemoryHandle(d.newHandle())
	d.memories[handle] = &memoryState{
		typeIndex: memoryTypeIndex,
		data:      make([]byte, allocationSize),
	}

	return fakeMemory(handle), core1_0.VKSuccess, nil
}

// FreeMemory implements driver.Device.
func (d *Device) FreeMemory(memory driver.DeviceMemory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.FreeMemoryFunc != nil {
		if err := d.FreeMemoryFunc(memory); err != nil {
			return err
		}
	}
	if _, ok := d.memories[memory.Handle()]; !ok {
		return errors.Newf("freeing unknown memory %x", memory.Handle())
	}

	delete(d.memories, memory.Handle())
	return nil
}

// BindBufferMemory implements driver.Device.
func (d *Device) BindBufferMemory(buffer driver.Buffer, memory driver.DeviceMemory, offset int) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.BindBufferMemoryFunc != nil {
		if err := d.BindBufferMemoryFunc(buffer, memory); err != nil {
			return core1_0.VKErrorUnknown, err
		}
	}

	bufState, ok := d.buffers[buffer.Handle()]
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("binding unknown buffer %x", buffer.Handle())
	}
	memState, ok := d.memories[memory.Handle()]
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("binding unknown memory %x", memory.Handle())
	}
	if bufState.bound != nil {
		return core1_0.VKErrorUnknown, errors.New("buffer is already bound to memory")
	}
	if offset+bufState.size > len(memState.data) {
		return core1_0.VKErrorUnknown, errors.Newf("binding at offset %d overruns the %d-byte memory block", offset, len(memState.data))
	}

	bufState.bound = memState
	bufState.boundOffset = offset
	return core1_0.VKSuccess, nil
}

// MapMemory implements driver.Device.
func (d *Device) MapMemory(memory driver.DeviceMemory) (unsafe.Pointer, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.mapCalls++

	if d.MapMemoryFunc != nil {
		if err := d.MapMemoryFunc(memory); err != nil {
			return nil, core1_0.VKErrorMemoryMapFailed, err
		}
	}

	state, ok := d.memories[memory.Handle()]
	if !ok {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("mapping unknown memory %x", memory.Handle())
	}
	if state.mapped {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("memory is already mapped")
	}

	state.mapped = true
	return unsafe.Pointer(&state.data[0]), core1_0.VKSuccess, nil
}

// UnmapMemory implements driver.Device.
func (d *Device) UnmapMemory(memory driver.DeviceMemory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.memories[memory.Handle()]
	if !ok {
		return errors.Newf("unmapping unknown memory %x", memory.Handle())
	}
	if !state.mapped {
		return errors.New("memory is not mapped")
	}

	state.mapped = false
	return nil
}
