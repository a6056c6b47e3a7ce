package drivertest

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/gpukit/vkmem/driver"
)

// CreateCommandPool implements driver.Device.
func (d *Device) CreateCommandPool(queueFamilyIndex int, flags driver.CommandPoolCreateFlags) (driver.CommandPool, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if queueFamilyIndex < 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("queue family index %d out of range", queueFamilyIndex)
	}

	handle := driver.CommandPoolHandle(d.newHandle())
	d.pools[handle] = &poolState{
		queueFamilyIndex: queueFamilyIndex,
		buffers:          make(map[driver.CommandBufferHandle]struct{}),
	}

	return fakePool(handle), core1_0.VKSuccess, nil
}

// DestroyCommandPool implements driver.Device. Command buffers still
// allocated from the pool are destroyed with it.
func (d *Device) DestroyCommandPool(pool driver.CommandPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.pools[pool.Handle()]
	if !ok {
		return errors.Newf("destroying unknown command pool %x", pool.Handle())
	}

	for buffer := range state.buffers {
		delete(d.commands, buffer)
	}
	delete(d.pools, pool.Handle())
	return nil
}

// AllocateCommandBuffers implements driver.Device.
func (d *Device) AllocateCommandBuffers(pool driver.CommandPool, count int) ([]driver.CommandBuffer, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.pools[pool.Handle()]
	if !ok {
		return nil, core1_0.VKErrorUnknown, errors.Newf("allocating from unknown command pool %x", pool.Handle())
	}
	if count <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("cannot allocate %d command buffers", count)
	}

	buffers := make([]driver.CommandBuffer, count)
	for i := 0; i < count; i++ {
		handle := driver.CommandBufferHandle(d.newHandle())
		d.commands[handle] = &commandState{
			pool: pool.Handle(),
		}
		state.buffers[handle] = struct{}{}
		buffers[i] = fakeCommandBuffer(handle)
	}

	return buffers, core1_0.VKSuccess, nil
}

// FreeCommandBuffers implements driver.Device.
func (d *Device) FreeCommandBuffers(pool driver.CommandPool, buffers []driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	poolState, ok := d.pools[pool.Handle()]
	if !ok {
		return errors.Newf("freeing into unknown command pool %x", pool.Handle())
	}

	for _, buffer := range buffers {
		state, ok := d.commands[buffer.Handle()]
		if !ok {
			return errors.Newf("freeing unknown command buffer %x", buffer.Handle())
		}
		if state.pool != pool.Handle() {
			return errors.Newf("command buffer %x does not belong to pool %x", buffer.Handle(), pool.Handle())
		}

		delete(d.commands, buffer.Handle())
		delete(poolState.buffers, buffer.Handle())
	}

	return nil
}

// BeginCommandBuffer implements driver.Device.
func (d *Device) BeginCommandBuffer(buffer driver.CommandBuffer, flags driver.CommandBufferUsageFlags) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.commands[buffer.Handle()]
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("beginning unknown command buffer %x", buffer.Handle())
	}
	if state.recording {
		return core1_0.VKErrorUnknown, errors.New("command buffer is already recording")
	}

	state.recording = true
	state.executable = false
	state.invalid = false
	state.commands = nil
	return core1_0.VKSuccess, nil
}

// EndCommandBuffer implements driver.Device.
func (d *Device) EndCommandBuffer(buffer driver.CommandBuffer) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.commands[buffer.Handle()]
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("ending unknown command buffer %x", buffer.Handle())
	}
	if !state.recording {
		return core1_0.VKErrorUnknown, errors.New("command buffer is not recording")
	}
	if state.invalid {
		return core1_0.VKErrorUnknown, errors.New("a command was recorded outside the recording state")
	}

	state.recording = false
	state.executable = true
	return core1_0.VKSuccess, nil
}

// ResetCommandBuffer implements driver.Device.
func (d *Device) ResetCommandBuffer(buffer driver.CommandBuffer) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.commands[buffer.Handle()]
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("resetting unknown command buffer %x", buffer.Handle())
	}

	state.recording = false
	state.executable = false
	state.invalid = false
	state.commands = nil
	return core1_0.VKSuccess, nil
}

// CmdCopyBuffer implements driver.Device. The copy is captured as a closure
// over the participating buffer states and executed at submission, reading
// and writing the bytes backing the bound memory blocks.
func (d *Device) CmdCopyBuffer(buffer driver.CommandBuffer, src driver.Buffer, dst driver.Buffer, regions []driver.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.commands[buffer.Handle()]
	if !ok {
		return
	}
	if !state.recording {
		state.invalid = true
		return
	}

	srcState := d.buffers[src.Handle()]
	dstState := d.buffers[dst.Handle()]
	copies := make([]driver.BufferCopy, len(regions))
	copy(copies, regions)

	state.commands = append(state.commands, func() error {
		if srcState == nil || dstState == nil {
			return errors.New("copying with a destroyed buffer")
		}
		if srcState.bound == nil || dstState.bound == nil {
			return errors.New("copying with an unbound buffer")
		}

		for _, region := range copies {
			srcStart := srcState.boundOffset + region.SrcOffset
			dstStart := dstState.boundOffset + region.DstOffset
			if srcStart+region.Size > len(srcState.bound.data) || dstStart+region.Size > len(dstState.bound.data) {
				return errors.Newf("copy region of %d bytes overruns a bound memory block", region.Size)
			}

			copy(dstState.bound.data[dstStart:dstStart+region.Size], srcState.bound.data[srcStart:srcStart+region.Size])
		}
		return nil
	})
}

// CmdPipelineBarrier implements driver.Device. Execution is already fully
// ordered in the fake, so the barrier only has to validate recording state.
func (d *Device) CmdPipelineBarrier(buffer driver.CommandBuffer, srcStageMask, dstStageMask driver.PipelineStageFlags, memoryBarriers []driver.MemoryBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.commands[buffer.Handle()]
	if !ok {
		return
	}
	if !state.recording {
		state.invalid = true
	}
}

// Queue implements driver.Device. The handle is derived from the family and
// index so repeated lookups yield the same queue.
func (d *Device) Queue(queueFamilyIndex, queueIndex int) driver.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	return fakeQueue(driver.QueueHandle(uintptr(queueFamilyIndex)<<16 | uintptr(queueIndex) + 1))
}

// QueueSubmit implements driver.Device. Recorded commands run synchronously,
// in submission order, before the call returns; a non-nil fence is signaled
// once every batch has executed.
func (d *Device) QueueSubmit(queue driver.Queue, submits []driver.SubmitInfo, fence driver.Fence) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.SubmitFunc != nil {
		if err := d.SubmitFunc(); err != nil {
			return core1_0.VKErrorUnknown, err
		}
	}

	for _, submit := range submits {
		for _, buffer := range submit.CommandBuffers {
			state, ok := d.commands[buffer.Handle()]
			if !ok {
				return core1_0.VKErrorUnknown, errors.Newf("submitting unknown command buffer %x", buffer.Handle())
			}
			if !state.executable {
				return core1_0.VKErrorUnknown, errors.New("submitting a command buffer that was not ended")
			}

			for _, cmd := range state.commands {
				if err := cmd(); err != nil {
					return core1_0.VKErrorUnknown, err
				}
			}
		}
	}

	if fence != nil {
		state, ok := d.fences[fence.Handle()]
		if !ok {
			return core1_0.VKErrorUnknown, errors.Newf("submitting with unknown fence %x", fence.Handle())
		}
		state.signaled = true
	}

	return core1_0.VKSuccess, nil
}

// QueueWaitIdle implements driver.Device. Submission already executes
// synchronously, so by the time this runs the queue is idle.
func (d *Device) QueueWaitIdle(queue driver.Queue) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.WaitIdleFunc != nil {
		if err := d.WaitIdleFunc(); err != nil {
			return core1_0.VKErrorUnknown, err
		}
	}

	return core1_0.VKSuccess, nil
}

// CreateFence implements driver.Device.
func (d *Device) CreateFence(flags driver.FenceCreateFlags) (driver.Fence, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	handle := driver.FenceHandle(d.newHandle())
	d.fences[handle] = &fenceState{
		signaled: flags&driver.FenceCreateSignaled != 0,
	}

	return fakeFence(handle), core1_0.VKSuccess, nil
}

// DestroyFence implements driver.Device.
func (d *Device) DestroyFence(fence driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if _, ok := d.fences[fence.Handle()]; !ok {
		return errors.Newf("destroying unknown fence %x", fence.Handle())
	}

	delete(d.fences, fence.Handle())
	return nil
}

// WaitForFence implements driver.Device. Work completes during QueueSubmit,
// so the fence's current state is final and the timeout never has to block.
func (d *Device) WaitForFence(fence driver.Fence, timeout time.Duration) (bool, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.fences[fence.Handle()]
	if !ok {
		return false, core1_0.VKErrorUnknown, errors.Newf("waiting on unknown fence %x", fence.Handle())
	}
	return state.signaled, core1_0.VKSuccess, nil
}

// ResetFence implements driver.Device.
func (d *Device) ResetFence(fence driver.Fence) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	state, ok := d.fences[fence.Handle()]
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("resetting unknown fence %x", fence.Handle())
	}

	state.signaled = false
	return core1_0.VKSuccess, nil
}
