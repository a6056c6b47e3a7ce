package transfer

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/gpukit/vkmem/command"
	"github.com/gpukit/vkmem/drivertest"
	"github.com/gpukit/vkmem/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func readyEngine(t *testing.T) (*drivertest.Device, *memory.Allocator, *Engine) {
	device := drivertest.New()

	allocator, err := memory.New(testLogger(), device, memory.CreateOptions{})
	require.NoError(t, err)

	pool, err := command.NewPool(testLogger(), device, 0)
	require.NoError(t, err)

	queue := command.NewQueue(testLogger(), device, 0, 0)
	engine := NewEngine(testLogger(), device, queue, pool)

	return device, allocator, engine
}

func allocate(t *testing.T, allocator *memory.Allocator, size int) *memory.Allocation {
	handleID, err := allocator.Allocate(size, 1, memory.NewHandleID())
	require.NoError(t, err)

	alloc, err := allocator.Get(handleID)
	require.NoError(t, err)

	return alloc
}

func payloadBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	device, allocator, engine := readyEngine(t)

	alloc := allocate(t, allocator, 1024)
	payload := payloadBytes(1024)

	require.NoError(t, engine.CopyToDevice(payload, alloc))

	// The bytes really landed in the allocation's backing memory.
	require.Equal(t, payload, device.MemoryBytes(alloc.DeviceMemory())[:1024])

	downloaded, err := engine.CopyFromDevice(alloc, 1024)
	require.NoError(t, err)
	require.Equal(t, payload, downloaded)

	// Staging resources are gone; only the allocation remains.
	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1, device.LiveMemories())
	require.Equal(t, 0, device.LiveCommandBuffers())
}

func TestPartialDownload(t *testing.T) {
	_, allocator, engine := readyEngine(t)

	alloc := allocate(t, allocator, 256)
	payload := payloadBytes(256)
	require.NoError(t, engine.CopyToDevice(payload, alloc))

	downloaded, err := engine.CopyFromDevice(alloc, 64)
	require.NoError(t, err)
	require.Equal(t, payload[:64], downloaded)
}

func TestEmptyUploadTouchesNothing(t *testing.T) {
	device, allocator, engine := readyEngine(t)
	alloc := allocate(t, allocator, 128)

	calls := device.Calls()
	require.NoError(t, engine.CopyToDevice(nil, alloc))
	require.NoError(t, engine.CopyToDevice([]byte{}, alloc))
	require.Equal(t, calls, device.Calls())
}

func TestZeroSizeDownload(t *testing.T) {
	device, allocator, engine := readyEngine(t)
	alloc := allocate(t, allocator, 128)

	calls := device.Calls()
	downloaded, err := engine.CopyFromDevice(alloc, 0)
	require.NoError(t, err)
	require.NotNil(t, downloaded)
	require.Empty(t, downloaded)
	require.Equal(t, calls, device.Calls())
}

func TestOversizedTransfersRejected(t *testing.T) {
	device, allocator, engine := readyEngine(t)
	alloc := allocate(t, allocator, 128)

	calls := device.Calls()

	err := engine.CopyToDevice(payloadBytes(129), alloc)
	require.ErrorIs(t, err, ErrInvalidSize)

	_, err = engine.CopyFromDevice(alloc, 129)
	require.ErrorIs(t, err, ErrInvalidSize)

	require.Equal(t, calls, device.Calls())
}

func TestDeviceToDeviceCopy(t *testing.T) {
	device, allocator, engine := readyEngine(t)

	src := allocate(t, allocator, 512)
	dst := allocate(t, allocator, 512)
	payload := payloadBytes(512)

	require.NoError(t, engine.CopyToDevice(payload, src))
	require.NoError(t, engine.CopyDeviceToDevice(src, dst, 512))

	downloaded, err := engine.CopyFromDevice(dst, 512)
	require.NoError(t, err)
	require.Equal(t, payload, downloaded)

	require.Equal(t, 2, device.LiveBuffers())
	require.Equal(t, 2, device.LiveMemories())
}

func TestDeviceToDeviceBounds(t *testing.T) {
	device, allocator, engine := readyEngine(t)

	small := allocate(t, allocator, 64)
	large := allocate(t, allocator, 256)

	calls := device.Calls()

	err := engine.CopyDeviceToDevice(large, small, 128)
	require.ErrorIs(t, err, ErrInvalidSize)

	err = engine.CopyDeviceToDevice(small, large, 128)
	require.ErrorIs(t, err, ErrInvalidSize)

	require.NoError(t, engine.CopyDeviceToDevice(small, large, 0))
	require.Equal(t, calls, device.Calls())
}

func TestStagingFailureLeavesNoResidue(t *testing.T) {
	device, allocator, engine := readyEngine(t)
	alloc := allocate(t, allocator, 128)

	device.AllocateMemoryFunc = func(allocationSize, memoryTypeIndex int) error {
		return errors.New("out of device memory")
	}

	err := engine.CopyToDevice(payloadBytes(128), alloc)
	require.ErrorIs(t, err, ErrStagingFailed)

	_, err = engine.CopyFromDevice(alloc, 128)
	require.ErrorIs(t, err, ErrStagingFailed)

	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1, device.LiveMemories())
}

func TestStagingNeedsAHostVisibleType(t *testing.T) {
	device, allocator, engine := readyEngine(t)
	alloc := allocate(t, allocator, 128)

	// Restrict buffer compatibility to the device-local type only.
	device.SetTypeBits(0b01)

	err := engine.CopyToDevice(payloadBytes(128), alloc)
	require.ErrorIs(t, err, ErrStagingFailed)

	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1, device.LiveMemories())
}

func TestSubmitFailureReleasesStaging(t *testing.T) {
	device, allocator, engine := readyEngine(t)
	alloc := allocate(t, allocator, 128)

	device.SubmitFunc = func() error {
		return errors.New("device lost")
	}

	err := engine.CopyToDevice(payloadBytes(128), alloc)
	require.ErrorIs(t, err, ErrCopyFailed)

	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1, device.LiveMemories())
	require.Equal(t, 0, device.LiveCommandBuffers())
}

func TestWaitFailureSurfacesAsSynchronization(t *testing.T) {
	device, allocator, engine := readyEngine(t)
	alloc := allocate(t, allocator, 128)

	device.WaitIdleFunc = func() error {
		return errors.New("device lost")
	}

	err := engine.CopyToDevice(payloadBytes(128), alloc)
	require.ErrorIs(t, err, ErrSynchronizationFailed)

	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1, device.LiveMemories())
	require.Equal(t, 0, device.LiveCommandBuffers())
}
