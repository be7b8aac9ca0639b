package resource

import (
	"slices"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/sheap"
)

// ForwardPolicy selects shared allocations that survive a reclaim and
// pass to a successor domain.
type ForwardPolicy struct {
	keep      func(sheap.Info) bool
	Successor dr.DomainID
}

// Forwards reports whether the policy keeps anything.
func (p ForwardPolicy) Forwards() bool {
	return p.keep != nil
}

// Keeps reports whether the allocation described by info is forwarded.
func (p ForwardPolicy) Keeps(info sheap.Info) bool {
	return p.keep != nil && p.keep(info)
}

// FreeAll forwards nothing.
func FreeAll() ForwardPolicy {
	return ForwardPolicy{Successor: dr.InvalidDomain}
}

// ForwardAll hands every shared allocation to successor.
func ForwardAll(successor dr.DomainID) ForwardPolicy {
	return ForwardPolicy{
		Successor: successor,
		keep:      func(sheap.Info) bool { return true },
	}
}

// ForwardTypes hands allocations of the given payload types to successor.
func ForwardTypes(successor dr.DomainID, types ...sheap.TypeID) ForwardPolicy {
	return ForwardPolicy{
		Successor: successor,
		keep: func(i sheap.Info) bool {
			return slices.Contains(types, i.TypeID)
		},
	}
}

// ForwardAllocations hands the given heap handles to successor.
func ForwardAllocations(successor dr.DomainID, handles ...uint64) ForwardPolicy {
	return ForwardPolicy{
		Successor: successor,
		keep: func(i sheap.Info) bool {
			return slices.Contains(handles, i.Handle)
		},
	}
}

// HandleSource resolves keys to heap handles. *storage.Store implements it.
type HandleSource interface {
	Handles(keys ...string) []uint64
}

// ForwardStored hands the shared values stored under keys to successor.
// Keys are resolved at reclaim time.
func ForwardStored(successor dr.DomainID, src HandleSource, keys ...string) ForwardPolicy {
	return ForwardPolicy{
		Successor: successor,
		keep: func(i sheap.Info) bool {
			return slices.Contains(src.Handles(keys...), i.Handle)
		},
	}
}
