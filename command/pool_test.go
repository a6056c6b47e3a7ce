package command

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/gpukit/vkmem/driver"
	"github.com/gpukit/vkmem/drivertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func readyPool(t *testing.T) (*drivertest.Device, *Pool) {
	device := drivertest.New()
	pool, err := NewPool(testLogger(), device, 0)
	require.NoError(t, err)

	return device, pool
}

func TestPoolLifecycle(t *testing.T) {
	device, pool := readyPool(t)
	require.Equal(t, 0, pool.QueueFamilyIndex())

	buffers, err := pool.AllocateBuffers(2)
	require.NoError(t, err)
	require.Len(t, buffers, 2)
	require.Equal(t, 2, device.LiveCommandBuffers())

	err = pool.FreeBuffers(buffers[:1])
	require.NoError(t, err)
	require.Equal(t, 1, device.LiveCommandBuffers())

	// Destroying the pool reclaims the buffer that was never freed.
	err = pool.Destroy()
	require.NoError(t, err)
	require.Equal(t, 0, device.LiveCommandBuffers())
}

func TestAllocateBuffersRejectsBadCounts(t *testing.T) {
	_, pool := readyPool(t)

	_, err := pool.AllocateBuffers(0)
	require.ErrorIs(t, err, ErrAllocationFailed)

	_, err = pool.AllocateBuffers(-1)
	require.ErrorIs(t, err, ErrAllocationFailed)
}

func TestRecordingStateMachine(t *testing.T) {
	_, pool := readyPool(t)

	buffers, err := pool.AllocateBuffers(1)
	require.NoError(t, err)
	buffer := buffers[0]

	// Ending a buffer that never began recording is a contract violation.
	err = pool.End(buffer)
	require.ErrorIs(t, err, ErrRecordingFailed)

	require.NoError(t, pool.Begin(buffer, driver.CommandBufferUsageOneTimeSubmit))

	// Beginning twice without ending is rejected too.
	err = pool.Begin(buffer, driver.CommandBufferUsageOneTimeSubmit)
	require.ErrorIs(t, err, ErrRecordingFailed)

	pool.RecordBarrier(buffer, driver.PipelineStageTransfer, driver.PipelineStageComputeShader,
		[]driver.MemoryBarrier{{
			SrcAccessMask: driver.AccessTransferWrite,
			DstAccessMask: driver.AccessShaderRead,
		}})

	require.NoError(t, pool.End(buffer))

	// Reset returns the buffer to a recordable state.
	require.NoError(t, pool.Reset(buffer))
	require.NoError(t, pool.Begin(buffer, driver.CommandBufferUsageOneTimeSubmit))
	require.NoError(t, pool.End(buffer))
}
