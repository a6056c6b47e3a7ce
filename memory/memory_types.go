package memory

import "github.com/vkngwrapper/core/v2/core1_0"

// IsAcceptableType reports whether the memory type at typeIndex is both
// present in a buffer's compatibility bitmask and host-visible. This is the
// validation Allocate applies to caller-supplied indices and the criterion
// FindHostVisibleType searches with.
func IsAcceptableType(properties *core1_0.PhysicalDeviceMemoryProperties, typeBits uint32, typeIndex int) bool {
	if typeIndex < 0 || typeIndex >= len(properties.MemoryTypes) {
		return false
	}
	if typeBits&(1<<uint(typeIndex)) == 0 {
		return false
	}

	return properties.MemoryTypes[typeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible != 0
}

// FindHostVisibleType returns the lowest-indexed memory type that is listed
// in typeBits and marked host-visible, or ok=false when no declared type
// qualifies.
func FindHostVisibleType(properties *core1_0.PhysicalDeviceMemoryProperties, typeBits uint32) (typeIndex int, ok bool) {
	for i := range properties.MemoryTypes {
		if IsAcceptableType(properties, typeBits, i) {
			return i, true
		}
	}

	return 0, false
}
