package command

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/gpukit/vkmem/driver"
)

// Pool owns a driver-level command pool scoped to one queue family and hands
// out command buffers from it. In this design a command buffer's lifetime is
// bounded by a single record/submit/wait cycle; there is no persistent reuse
// across calls.
//
// A Pool and the command buffers allocated from it must be driven from one
// goroutine at a time. The device must outlive the pool.
type Pool struct {
	logger           *slog.Logger
	device           driver.Device
	pool             driver.CommandPool
	queueFamilyIndex int
}

// NewPool creates a command pool on the given queue family. The pool permits
// resetting individual command buffers.
func NewPool(logger *slog.Logger, device driver.Device, queueFamilyIndex int) (*Pool, error) {
	pool, _, err := device.CreateCommandPool(queueFamilyIndex, driver.CommandPoolCreateResetBuffer)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating a command pool on queue family %d", queueFamilyIndex), ErrPoolCreationFailed)
	}

	return &Pool{
		logger:           logger,
		device:           device,
		pool:             pool,
		queueFamilyIndex: queueFamilyIndex,
	}, nil
}

// AllocateBuffers requests count primary command buffers from the pool.
// count should be at least 1; a zero count is not rejected here but is
// meaningless.
func (p *Pool) AllocateBuffers(count int) ([]driver.CommandBuffer, error) {
	p.logger.Debug("Pool::AllocateBuffers", slog.Int("count", count))

	buffers, _, err := p.device.AllocateCommandBuffers(p.pool, count)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "allocating %d command buffers", count), ErrAllocationFailed)
	}

	return buffers, nil
}

// FreeBuffers returns command buffers to the pool.
func (p *Pool) FreeBuffers(buffers []driver.CommandBuffer) error {
	p.logger.Debug("Pool::FreeBuffers", slog.Int("count", len(buffers)))

	if err := p.device.FreeCommandBuffers(p.pool, buffers); err != nil {
		return errors.Mark(errors.Wrap(err, "freeing command buffers"), ErrAllocationFailed)
	}

	return nil
}

// Begin moves a command buffer into the recording state.
func (p *Pool) Begin(buffer driver.CommandBuffer, flags driver.CommandBufferUsageFlags) error {
	p.logger.Debug("Pool::Begin")

	_, err := p.device.BeginCommandBuffer(buffer, flags)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "beginning command buffer recording"), ErrRecordingFailed)
	}

	return nil
}

// End closes recording on a command buffer, making it submittable. Ending a
// buffer that is not recording is a caller contract violation surfaced as a
// driver error.
func (p *Pool) End(buffer driver.CommandBuffer) error {
	p.logger.Debug("Pool::End")

	_, err := p.device.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "ending command buffer recording"), ErrRecordingFailed)
	}

	return nil
}

// Reset returns a command buffer to its initial state for re-recording.
func (p *Pool) Reset(buffer driver.CommandBuffer) error {
	p.logger.Debug("Pool::Reset")

	_, err := p.device.ResetCommandBuffer(buffer)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "resetting command buffer"), ErrRecordingFailed)
	}

	return nil
}

// RecordBarrier records an execution and memory dependency into a recording
// command buffer, making writes before the barrier visible to reads after
// it.
func (p *Pool) RecordBarrier(buffer driver.CommandBuffer, srcStage, dstStage driver.PipelineStageFlags, memoryBarriers []driver.MemoryBarrier) {
	p.logger.Debug("Pool::RecordBarrier",
		slog.String("srcStage", srcStage.String()),
		slog.String("dstStage", dstStage.String()))

	p.device.CmdPipelineBarrier(buffer, srcStage, dstStage, memoryBarriers)
}

// QueueFamilyIndex returns the queue family this pool is scoped to.
func (p *Pool) QueueFamilyIndex() int {
	return p.queueFamilyIndex
}

// Destroy destroys the underlying pool. The caller must guarantee that no
// command buffer from this pool is still in flight.
func (p *Pool) Destroy() error {
	p.logger.Debug("Pool::Destroy")

	if err := p.device.DestroyCommandPool(p.pool); err != nil {
		return errors.Mark(errors.Wrap(err, "destroying command pool"), ErrPoolCreationFailed)
	}

	return nil
}
