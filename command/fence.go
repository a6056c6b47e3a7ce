package command

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gpukit/vkmem/driver"
)

// Fence wraps a binary host-observable synchronization object. It is
// signaled by the driver when associated submitted work completes and reset
// explicitly. The device must outlive the fence.
type Fence struct {
	device driver.Device
	fence  driver.Fence
}

// NewFence creates a fence, optionally already in the signaled state.
func NewFence(device driver.Device, signaled bool) (*Fence, error) {
	var flags driver.FenceCreateFlags
	if signaled {
		flags = driver.FenceCreateSignaled
	}

	fence, _, err := device.CreateFence(flags)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "creating fence"), ErrSynchronizationFailed)
	}

	return &Fence{
		device: device,
		fence:  fence,
	}, nil
}

// Wait blocks until the fence is signaled or the timeout elapses. It returns
// true if the fence signaled within the timeout and false on timeout; an
// error only on driver failure.
func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	signaled, _, err := f.device.WaitForFence(f.fence, timeout)
	if err != nil {
		return false, errors.Mark(errors.Wrap(err, "waiting for fence"), ErrSynchronizationFailed)
	}

	return signaled, nil
}

// Reset returns the fence to the unsignaled state. It must only be called on
// a fence not currently referenced by a pending submission.
func (f *Fence) Reset() error {
	_, err := f.device.ResetFence(f.fence)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "resetting fence"), ErrSynchronizationFailed)
	}

	return nil
}

// Raw returns the underlying fence handle for use in queue submissions. The
// handle remains owned by this wrapper.
func (f *Fence) Raw() driver.Fence {
	return f.fence
}

// Destroy destroys the underlying fence. No pending submission may still
// reference it; that is a caller obligation, not internally enforced.
func (f *Fence) Destroy() error {
	if err := f.device.DestroyFence(f.fence); err != nil {
		return errors.Mark(errors.Wrap(err, "destroying fence"), ErrSynchronizationFailed)
	}

	return nil
}
