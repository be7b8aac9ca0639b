package domainruntime

import (
	"fmt"
	"math"
)

// DomainID identifies one domain instance. It is reassigned on reload and replace.
type DomainID uint64

const (
	// KernelDomain owns allocations made by the kernel itself, including the
	// backing pages of the shared heap.
	KernelDomain DomainID = 0

	// StorageDomain owns values allocated for the storage side-channel.
	StorageDomain DomainID = math.MaxUint64 - 1

	// InvalidDomain is the id reported by an empty proxy slot.
	InvalidDomain DomainID = math.MaxUint64
)

func (id DomainID) String() string {
	switch id {
	case KernelDomain:
		return "kernel"
	case StorageDomain:
		return "storage"
	case InvalidDomain:
		return "none"
	}
	return fmt.Sprintf("domain-%d", uint64(id))
}

// PageSize is the granularity of page grants.
const PageSize = 4096

// PageRange is a run of contiguous pages starting at frame Start.
type PageRange struct {
	Start uint64
	Count uint64
}

// End returns the first frame past the range.
func (r PageRange) End() uint64 {
	return r.Start + r.Count
}

// Bytes returns the size of the range in bytes.
func (r PageRange) Bytes() uint64 {
	return r.Count * PageSize
}

// PageAllocator grants and releases physical page ranges
type PageAllocator interface {
	AllocPages(n uint64) (PageRange, error)
	FreePages(r PageRange) error
}
