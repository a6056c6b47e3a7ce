package driver

import "github.com/vkngwrapper/core/v2/common"

// PipelineStageFlags identify stages of device work for barriers and
// semaphore waits.
type PipelineStageFlags int32

var pipelineStageFlagsMapping = common.NewFlagStringMapping[PipelineStageFlags]()

func (f PipelineStageFlags) Register(str string) {
	pipelineStageFlagsMapping.Register(f, str)
}
func (f PipelineStageFlags) String() string {
	return pipelineStageFlagsMapping.FlagsToString(f)
}

const (
	// PipelineStageTransfer covers copy commands.
	PipelineStageTransfer PipelineStageFlags = 1 << iota
	// PipelineStageComputeShader covers compute shader execution.
	PipelineStageComputeShader
	// PipelineStageAllCommands covers every stage.
	PipelineStageAllCommands
)

// AccessFlags identify memory access kinds for barriers.
type AccessFlags int32

var accessFlagsMapping = common.NewFlagStringMapping[AccessFlags]()

func (f AccessFlags) Register(str string) {
	accessFlagsMapping.Register(f, str)
}
func (f AccessFlags) String() string {
	return accessFlagsMapping.FlagsToString(f)
}

const (
	AccessTransferRead AccessFlags = 1 << iota
	AccessTransferWrite
	AccessShaderRead
	AccessShaderWrite
)

// CommandPoolCreateFlags indicate behaviors of a command pool.
type CommandPoolCreateFlags int32

var commandPoolCreateFlagsMapping = common.NewFlagStringMapping[CommandPoolCreateFlags]()

func (f CommandPoolCreateFlags) Register(str string) {
	commandPoolCreateFlagsMapping.Register(f, str)
}
func (f CommandPoolCreateFlags) String() string {
	return commandPoolCreateFlagsMapping.FlagsToString(f)
}

const (
	// CommandPoolCreateResetBuffer permits resetting individual command
	// buffers allocated from the pool.
	CommandPoolCreateResetBuffer CommandPoolCreateFlags = 1 << iota
)

// CommandBufferUsageFlags indicate how a recorded command buffer will be
// used.
type CommandBufferUsageFlags int32

var commandBufferUsageFlagsMapping = common.NewFlagStringMapping[CommandBufferUsageFlags]()

func (f CommandBufferUsageFlags) Register(str string) {
	commandBufferUsageFlagsMapping.Register(f, str)
}
func (f CommandBufferUsageFlags) String() string {
	return commandBufferUsageFlagsMapping.FlagsToString(f)
}

const (
	// CommandBufferUsageOneTimeSubmit promises the buffer is submitted once
	// and then reset or freed.
	CommandBufferUsageOneTimeSubmit CommandBufferUsageFlags = 1 << iota
)

// FenceCreateFlags indicate the initial state of a fence.
type FenceCreateFlags int32

var fenceCreateFlagsMapping = common.NewFlagStringMapping[FenceCreateFlags]()

func (f FenceCreateFlags) Register(str string) {
	fenceCreateFlagsMapping.Register(f, str)
}
func (f FenceCreateFlags) String() string {
	return fenceCreateFlagsMapping.FlagsToString(f)
}

const (
	// FenceCreateSignaled creates the fence already signaled.
	FenceCreateSignaled FenceCreateFlags = 1 << iota
)

func init() {
	PipelineStageTransfer.Register("PipelineStageTransfer")
	PipelineStageComputeShader.Register("PipelineStageComputeShader")
	PipelineStageAllCommands.Register("PipelineStageAllCommands")

	AccessTransferRead.Register("AccessTransferRead")
	AccessTransferWrite.Register("AccessTransferWrite")
	AccessShaderRead.Register("AccessShaderRead")
	AccessShaderWrite.Register("AccessShaderWrite")

	CommandPoolCreateResetBuffer.Register("CommandPoolCreateResetBuffer")
	CommandBufferUsageOneTimeSubmit.Register("CommandBufferUsageOneTimeSubmit")
	FenceCreateSignaled.Register("FenceCreateSignaled")
}
