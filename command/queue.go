package command

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/gpukit/vkmem/driver"
)

// Queue wraps one logical submission channel on a queue family. It does not
// own the underlying queue - queues belong to the device - so there is
// nothing to destroy. The device must outlive the wrapper.
type Queue struct {
	logger           *slog.Logger
	device           driver.Device
	queue            driver.Queue
	queueFamilyIndex int
}

// NewQueue wraps the queue at (queueFamilyIndex, queueIndex) on the device.
func NewQueue(logger *slog.Logger, device driver.Device, queueFamilyIndex, queueIndex int) *Queue {
	return &Queue{
		logger:           logger,
		device:           device,
		queue:            device.Queue(queueFamilyIndex, queueIndex),
		queueFamilyIndex: queueFamilyIndex,
	}
}

// Submit submits one batch of command buffers. If waitSemaphore is non-nil,
// the batch stalls at the all-commands stage until it is signaled. If fence
// is non-nil, the fence becomes signaled once all submitted work completes;
// without a fence, completion is not independently observable through this
// call.
func (q *Queue) Submit(buffers []driver.CommandBuffer, waitSemaphore, signalSemaphore driver.Semaphore, fence driver.Fence) error {
	q.logger.Debug("Queue::Submit", slog.Int("bufferCount", len(buffers)))

	submit := driver.SubmitInfo{
		CommandBuffers: buffers,
	}
	if waitSemaphore != nil {
		submit.WaitSemaphores = []driver.Semaphore{waitSemaphore}
		submit.WaitDstStageMask = []driver.PipelineStageFlags{driver.PipelineStageAllCommands}
	}
	if signalSemaphore != nil {
		submit.SignalSemaphores = []driver.Semaphore{signalSemaphore}
	}

	_, err := q.device.QueueSubmit(q.queue, []driver.SubmitInfo{submit}, fence)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "submitting command buffers"), ErrSubmissionFailed)
	}

	return nil
}

// WaitIdle blocks the calling goroutine until the queue has no outstanding
// work. This is the primary completion mechanism of the transfer paths.
// There is no cancellation hook: a hang on the driver side is not
// interruptible from here.
func (q *Queue) WaitIdle() error {
	q.logger.Debug("Queue::WaitIdle")

	_, err := q.device.QueueWaitIdle(q.queue)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "waiting for queue idle"), ErrSynchronizationFailed)
	}

	return nil
}

// QueueFamilyIndex returns the queue family this queue belongs to.
func (q *Queue) QueueFamilyIndex() int {
	return q.queueFamilyIndex
}
