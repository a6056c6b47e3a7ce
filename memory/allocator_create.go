package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"

	"github.com/gpukit/vkmem/driver"
	"github.com/gpukit/vkmem/internal/utils"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will
	// not be synchronized internally. The consumer must guarantee it is used
	// from only one goroutine at a time or is synchronized by some other
	// mechanism, but performance may improve because the table mutex is not
	// used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
}

const initialTableCapacity = 64

// New creates a new Allocator on top of the provided device connection.
//
// logger - destination for this allocator's debug tracing
//
// device - the driver connection memory will be allocated from. It must
// outlive the allocator.
//
// options - optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device driver.Device, options CreateOptions) (*Allocator, error) {
	if device == nil {
		return nil, errors.New("attempted to create an Allocator with a nil device")
	}

	properties := device.MemoryProperties()
	if properties == nil || len(properties.MemoryTypes) == 0 {
		return nil, errors.New("the provided device declares no memory types")
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	return &Allocator{
		logger:           logger,
		device:           device,
		memoryProperties: properties,
		createFlags:      options.Flags,

		tableMutex:  utils.OptionalRWMutex{UseMutex: useMutex},
		allocations: swiss.NewMap[string, *Allocation](initialTableCapacity),
	}, nil
}

// NewHandleID mints an opaque allocation handle for callers that do not
// manage their own handle namespace. IDs are unique per process.
func NewHandleID() string {
	return uuid.NewString()
}
