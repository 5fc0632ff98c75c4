package manager

import (
	"sync"

	"github.com/bloomd/bloomd/internal/bloomfilter"
)

// handle is the manager's wrapper around one underlying filter plus its
// concurrency and lifecycle metadata.
//
// isActive and refCount are mutated only while the owning Manager's
// registry lock is held (never under rw), mirroring the spec's split
// between registry-owned bookkeeping and filter-owned state. This
// differs from the teacher's calltr.CallEntry, which uses an atomic
// refcount because its hash-bucket locks are partitioned per bucket; a
// single registry-wide mutex makes the atomic unnecessary here.
type handle struct {
	filter   *bloomfilter.Filter
	isActive bool
	refCount int32
	rw       sync.RWMutex
}

func newHandle(f *bloomfilter.Filter) *handle {
	return &handle{filter: f, isActive: true, refCount: 1}
}
