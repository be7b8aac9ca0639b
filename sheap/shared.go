package sheap

import (
	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/errors"
)

// Shared is implemented only by *Value and *Array. Proxies accept Shared
// arguments so that nothing else can cross a domain boundary by reference.
type Shared interface {
	// Owner returns the domain currently owning the allocation.
	Owner() dr.DomainID

	// MoveTo makes id the owner and returns the previous owner.
	MoveTo(id dr.DomainID) dr.DomainID

	// Valid reports whether the allocation has not been released.
	Valid() bool

	// Handle returns the heap slot of the allocation.
	Handle() uint64

	sharedAlloc() *allocation
}

// Present reports whether s holds a handle, treating typed nil pointers
// as absent.
func Present(s Shared) bool {
	return s != nil && s.sharedAlloc() != nil
}

// Scope is a heap bound to the domain that allocates through it.
type Scope struct {
	heap   *Heap
	domain dr.DomainID
}

// Domain returns the owner stamped on allocations made through s.
func (s Scope) Domain() dr.DomainID {
	return s.domain
}

// Heap returns the underlying heap.
func (s Scope) Heap() *Heap {
	return s.heap
}

func (s Scope) check() error {
	if s.heap == nil {
		return errors.NotInitialized(errors.PhaseAlloc, "heap scope")
	}
	return nil
}

// ref holds the state common to every handle.
type ref struct {
	a *allocation
}

// Owner returns the owning domain.
func (r ref) Owner() dr.DomainID {
	return dr.DomainID(r.a.owner.Load())
}

// MoveTo transfers ownership to id, including nested handles owned by the
// same domain, and returns the previous owner.
func (r ref) MoveTo(id dr.DomainID) dr.DomainID {
	return r.a.retag(id)
}

func (r ref) valid() bool {
	return r.a != nil && !r.a.released.Load()
}

// Handle returns the heap slot of the allocation.
func (r ref) Handle() uint64 {
	return r.a.handle
}

// TypeID returns the registered payload type.
func (r ref) TypeID() TypeID {
	return r.a.typ.id
}

// Borrows returns the number of outstanding borrows.
func (r ref) Borrows() int32 {
	return r.a.borrows.Load()
}

// ReturnBorrow ends one borrow started with Borrow.
func (r ref) ReturnBorrow() {
	for {
		n := r.a.borrows.Load()
		if n == 0 || r.a.borrows.CompareAndSwap(n, n-1) {
			return
		}
	}
}

func (r ref) borrow() error {
	if r.a.released.Load() {
		return r.released()
	}
	r.a.borrows.Add(1)
	return nil
}

func (r ref) released() error {
	return errors.New(errors.PhaseTransfer, errors.KindNotFound).
		TypeName(r.a.typ.name).
		Detail("allocation %d already released", r.a.handle).
		Build()
}

// Drop runs the destructor and frees the allocation. Dropping twice is a
// no-op; dropping while borrows are outstanding fails.
func (r ref) Drop() error {
	if r.a == nil {
		return nil
	}
	if n := r.a.borrows.Load(); n > 0 {
		return errors.OutstandingBorrow(r.a.typ.name, uint32(n))
	}
	r.a.heap.release(r.a)
	return nil
}
