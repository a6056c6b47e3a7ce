// Package transfer moves bytes across the host/device boundary and between
// device buffers. Uploads and downloads hop through a temporary host-visible
// staging buffer; device-to-device copies go direct. Every operation is a
// fully synchronous round trip: it records, submits, and waits for the queue
// to go idle before returning, trading throughput for a simple, fully
// ordered completion model.
package transfer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"

	"github.com/gpukit/vkmem/command"
	"github.com/gpukit/vkmem/driver"
	"github.com/gpukit/vkmem/memory"
)

// Engine drives copies into and out of device allocations. It holds
// non-owning references to its device, queue, and pool; all three must
// outlive it, and the pool must not be shared with another concurrent user.
type Engine struct {
	logger *slog.Logger
	device driver.Device
	queue  *command.Queue
	pool   *command.Pool
}

// NewEngine creates a transfer engine submitting on queue with command
// buffers from pool. The pool and queue should belong to the same queue
// family.
func NewEngine(logger *slog.Logger, device driver.Device, queue *command.Queue, pool *command.Pool) *Engine {
	return &Engine{
		logger: logger,
		device: device,
		queue:  queue,
		pool:   pool,
	}
}

// CopyToDevice copies hostBytes into the beginning of the destination
// allocation through a staging buffer. It fails with ErrInvalidSize if
// hostBytes is larger than the allocation, and is a trivial success when
// hostBytes is empty. The copy is complete when CopyToDevice returns; a
// barrier makes the transfer write visible to subsequent shader reads.
func (e *Engine) CopyToDevice(hostBytes []byte, dst *memory.Allocation) error {
	e.logger.Debug("Engine::CopyToDevice",
		slog.Int("size", len(hostBytes)),
		slog.String("handleID", dst.HandleID()))

	if len(hostBytes) > dst.Size() {
		return errors.Wrapf(ErrInvalidSize, "host data size %d exceeds the allocation's size %d", len(hostBytes), dst.Size())
	}
	if len(hostBytes) == 0 {
		return nil
	}

	stage, err := createStaging(e.device, len(hostBytes), core1_0.BufferUsageTransferSrc)
	if err != nil {
		return err
	}
	defer stage.destroy()

	if err := stage.write(hostBytes); err != nil {
		return err
	}

	return e.runCommands(func(buffer driver.CommandBuffer) {
		e.device.CmdCopyBuffer(buffer, stage.buffer, dst.Buffer(), []driver.BufferCopy{{
			Size: len(hostBytes),
		}})
		e.pool.RecordBarrier(buffer, driver.PipelineStageTransfer, driver.PipelineStageComputeShader,
			[]driver.MemoryBarrier{{
				SrcAccessMask: driver.AccessTransferWrite,
				DstAccessMask: driver.AccessShaderRead,
			}})
	})
}

// CopyFromDevice copies size bytes from the beginning of the source
// allocation into a fresh byte slice through a staging buffer. It fails
// with ErrInvalidSize if size exceeds the allocation, and returns an empty
// slice immediately when size is zero. A barrier makes prior shader writes
// visible to the transfer read. On error no partial data is returned.
func (e *Engine) CopyFromDevice(src *memory.Allocation, size int) ([]byte, error) {
	e.logger.Debug("Engine::CopyFromDevice",
		slog.Int("size", size),
		slog.String("handleID", src.HandleID()))

	if size > src.Size() {
		return nil, errors.Wrapf(ErrInvalidSize, "copy size %d exceeds the allocation's size %d", size, src.Size())
	}
	if size == 0 {
		return []byte{}, nil
	}

	stage, err := createStaging(e.device, size, core1_0.BufferUsageTransferDst)
	if err != nil {
		return nil, err
	}
	defer stage.destroy()

	err = e.runCommands(func(buffer driver.CommandBuffer) {
		e.pool.RecordBarrier(buffer, driver.PipelineStageComputeShader, driver.PipelineStageTransfer,
			[]driver.MemoryBarrier{{
				SrcAccessMask: driver.AccessShaderWrite,
				DstAccessMask: driver.AccessTransferRead,
			}})
		e.device.CmdCopyBuffer(buffer, src.Buffer(), stage.buffer, []driver.BufferCopy{{
			Size: size,
		}})
	})
	if err != nil {
		return nil, err
	}

	return stage.read(size)
}

// CopyDeviceToDevice copies size bytes between two device allocations with
// no staging hop. It fails with ErrInvalidSize if size exceeds either
// allocation and is a no-op success when size is zero.
//
// No barrier is recorded on this path: callers needing memory-visibility
// guarantees across shader stages must add their own synchronization.
func (e *Engine) CopyDeviceToDevice(src, dst *memory.Allocation, size int) error {
	e.logger.Debug("Engine::CopyDeviceToDevice",
		slog.Int("size", size),
		slog.String("srcHandleID", src.HandleID()),
		slog.String("dstHandleID", dst.HandleID()))

	if size > src.Size() || size > dst.Size() {
		return errors.Wrapf(ErrInvalidSize, "copy size %d exceeds an allocation's size (src %d, dst %d)", size, src.Size(), dst.Size())
	}
	if size == 0 {
		return nil
	}

	return e.runCommands(func(buffer driver.CommandBuffer) {
		e.device.CmdCopyBuffer(buffer, src.Buffer(), dst.Buffer(), []driver.BufferCopy{{
			Size: size,
		}})
	})
}

// runCommands executes one record/submit/wait cycle: it takes a one-time
// command buffer from the pool, records through the callback, submits
// without a fence, and blocks until the queue is idle. The command buffer is
// returned to the pool on every path.
func (e *Engine) runCommands(record func(buffer driver.CommandBuffer)) error {
	buffers, err := e.pool.AllocateBuffers(1)
	if err != nil {
		return errors.Mark(err, ErrCopyFailed)
	}
	defer func() {
		_ = e.pool.FreeBuffers(buffers)
	}()

	buffer := buffers[0]

	if err := e.pool.Begin(buffer, driver.CommandBufferUsageOneTimeSubmit); err != nil {
		return errors.Mark(err, ErrCopyFailed)
	}

	record(buffer)

	if err := e.pool.End(buffer); err != nil {
		return errors.Mark(err, ErrCopyFailed)
	}

	if err := e.queue.Submit(buffers, nil, nil, nil); err != nil {
		return errors.Mark(err, ErrCopyFailed)
	}

	if err := e.queue.WaitIdle(); err != nil {
		return errors.Mark(err, ErrSynchronizationFailed)
	}

	return nil
}
