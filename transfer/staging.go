package transfer

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/gpukit/vkmem/driver"
	"github.com/gpukit/vkmem/memory"
)

// staging is a temporary host-visible buffer + memory pair used as the
// intermediate hop of one transfer. It exists for at most the duration of a
// single engine call.
type staging struct {
	device driver.Device
	buffer driver.Buffer
	memory driver.DeviceMemory
}

// createStaging creates, allocates, and binds a staging buffer of exactly
// size bytes. The memory type is the lowest-indexed host-visible type in the
// staging buffer's own compatibility bitmask. If any step fails, everything
// created by the earlier steps has been destroyed before the error returns.
func createStaging(device driver.Device, size int, usage core1_0.BufferUsageFlags) (_ *staging, err error) {
	buffer, _, err := device.CreateBuffer(size, usage, core1_0.SharingModeExclusive)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating a %d-byte staging buffer", size), ErrStagingFailed)
	}
	defer func() {
		if err != nil {
			_ = device.DestroyBuffer(buffer)
		}
	}()

	memReqs := device.BufferMemoryRequirements(buffer)

	typeIndex, ok := memory.FindHostVisibleType(device.MemoryProperties(), memReqs.MemoryTypeBits)
	if !ok {
		err = errors.Wrapf(ErrStagingFailed,
			"the staging buffer's compatibility bitmask 0x%x contains no host-visible memory type", memReqs.MemoryTypeBits)
		return nil, err
	}

	stagingMemory, _, err := device.AllocateMemory(memReqs.Size, typeIndex)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "allocating %d bytes of staging memory", memReqs.Size), ErrStagingFailed)
	}
	defer func() {
		if err != nil {
			_ = device.FreeMemory(stagingMemory)
		}
	}()

	_, err = device.BindBufferMemory(buffer, stagingMemory, 0)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "binding the staging buffer to its memory"), ErrStagingFailed)
	}

	return &staging{
		device: device,
		buffer: buffer,
		memory: stagingMemory,
	}, nil
}

// write maps the staging memory, copies data into it, and unmaps.
func (s *staging) write(data []byte) error {
	ptr, _, err := s.device.MapMemory(s.memory)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "mapping staging memory for write"), ErrStagingFailed)
	}

	copy(unsafe.Slice((*byte)(ptr), len(data)), data)

	if err := s.device.UnmapMemory(s.memory); err != nil {
		return errors.Mark(errors.Wrap(err, "unmapping staging memory after write"), ErrStagingFailed)
	}

	return nil
}

// read maps the staging memory, copies size bytes out, and unmaps.
func (s *staging) read(size int) ([]byte, error) {
	ptr, _, err := s.device.MapMemory(s.memory)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "mapping staging memory for read"), ErrStagingFailed)
	}

	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(ptr), size))

	if err := s.device.UnmapMemory(s.memory); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "unmapping staging memory after read"), ErrStagingFailed)
	}

	return data, nil
}

// destroy releases the staging resources. Safe to call on every exit path;
// failures here are unrecoverable and ignored.
func (s *staging) destroy() {
	_ = s.device.DestroyBuffer(s.buffer)
	_ = s.device.FreeMemory(s.memory)
}
