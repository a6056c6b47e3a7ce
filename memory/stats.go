package memory

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// BuildStatsString renders the live allocation table as a JSON document.
// Intended for diagnostics and leak hunting, not machine consumption: the
// exact shape may change between versions.
func (a *Allocator) BuildStatsString() string {
	writer := jwriter.NewWriter()

	a.tableMutex.RLock()
	defer a.tableMutex.RUnlock()

	obj := writer.Object()
	obj.Name("AllocationCount").Int(a.AllocationCount())
	obj.Name("AllocationBytes").Int(a.AllocationBytes())

	arr := obj.Name("Allocations").Array()
	a.allocations.Iter(func(handleID string, alloc *Allocation) bool {
		allocObj := arr.Object()
		alloc.printParameters(&allocObj)
		allocObj.End()
		return false
	})
	arr.End()
	obj.End()

	return string(writer.Bytes())
}
