package sheap

import (
	"math/bits"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/errors"
)

// Layout describes the size and alignment of an allocation.
type Layout struct {
	Size  uint64
	Align uint64
}

// Footprint returns the size rounded up to the alignment.
func (l Layout) Footprint() uint64 {
	if l.Align <= 1 {
		return l.Size
	}
	return (l.Size + l.Align - 1) &^ (l.Align - 1)
}

// Options configures a Heap.
type Options struct {
	// Pages backs the heap. When nil the heap never runs out unless Limit is set.
	Pages dr.PageAllocator

	// OnGrow is called with every page range the heap reserves.
	OnGrow func(dr.PageRange)

	// Limit caps the bytes in use. Zero means no cap.
	Limit uint64

	// MinChunk is the smallest number of pages reserved per growth.
	MinChunk uint64
}

// Info describes one live allocation.
type Info struct {
	Layout   Layout
	TypeName string
	Handle   uint64
	Owner    dr.DomainID
	TypeID   TypeID
	Borrows  int32
	View     bool
}

// Stats summarizes heap usage.
type Stats struct {
	Live     int
	Views    int
	Types    int
	Chunks   int
	InUse    uint64
	Reserved uint64
}

// ReleaseResult reports what ReleaseOwned did.
type ReleaseResult struct {
	Freed     int
	Forwarded int
	Bytes     uint64
}

type allocation struct {
	heap     *Heap
	typ      *typeInfo
	payload  reflect.Value
	layout   Layout
	handle   uint64
	owner    atomic.Uint64
	borrows  atomic.Int32
	released atomic.Bool
	view     bool
	array    bool
}

func (a *allocation) info() Info {
	return Info{
		Handle:   a.handle,
		Owner:    dr.DomainID(a.owner.Load()),
		TypeID:   a.typ.id,
		TypeName: a.typ.name,
		Layout:   a.layout,
		Borrows:  a.borrows.Load(),
		View:     a.view,
	}
}

// retag moves the allocation and every nested handle it owns to id.
func (a *allocation) retag(id dr.DomainID) dr.DomainID {
	old := a.owner.Swap(uint64(id))
	if a.view || !a.typ.nested {
		return dr.DomainID(old)
	}
	a.eachChild(func(c *allocation) {
		if c.owner.Load() == old {
			c.retag(id)
		}
	})
	return dr.DomainID(old)
}

func (a *allocation) eachChild(fn func(*allocation)) {
	if a.array {
		for i := 0; i < a.payload.Len(); i++ {
			walkHandles(a.payload.Index(i), fn)
		}
		return
	}
	walkHandles(a.payload, fn)
}

// Heap is the allocator for memory shared across domain boundaries.
type Heap struct {
	pages    dr.PageAllocator
	onGrow   func(dr.PageRange)
	types    *registry
	entries  []*allocation
	freeList []uint64
	chunks   []dr.PageRange
	limit    uint64
	minChunk uint64
	reserved uint64
	inUse    uint64
	live     int
	views    int
	mu       sync.Mutex
}

// New creates a heap.
func New(opts Options) *Heap {
	return &Heap{
		pages:    opts.Pages,
		onGrow:   opts.OnGrow,
		limit:    opts.Limit,
		minChunk: opts.MinChunk,
		types:    newRegistry(),
		entries:  make([]*allocation, 0, 64),
		freeList: make([]uint64, 0, 16),
	}
}

// Scope binds the heap to a domain.
func (h *Heap) Scope(id dr.DomainID) Scope {
	return Scope{heap: h, domain: id}
}

// alloc reserves space for a payload and stamps owner on it.
func (h *Heap) alloc(owner dr.DomainID, ti *typeInfo, layout Layout, payload reflect.Value, array, view bool) (*allocation, error) {
	size := layout.Footprint()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limit > 0 && h.inUse+size > h.limit {
		return nil, errors.New(errors.PhaseAlloc, errors.KindAllocation).
			TypeName(ti.name).
			Detail("heap limit %d bytes reached (in use %d, requested %d)", h.limit, h.inUse, size).
			Build()
	}
	if err := h.growLocked(size, layout.Align); err != nil {
		return nil, err
	}

	a := &allocation{
		heap:    h,
		typ:     ti,
		payload: payload,
		layout:  layout,
		array:   array,
		view:    view,
	}
	a.owner.Store(uint64(owner))

	if n := len(h.freeList); n > 0 {
		a.handle = h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.entries[a.handle-1] = a
	} else {
		h.entries = append(h.entries, a)
		a.handle = uint64(len(h.entries))
	}

	h.inUse += size
	h.live++
	if view {
		h.views++
	}
	return a, nil
}

// growLocked reserves pages until size more bytes fit.
func (h *Heap) growLocked(size, align uint64) error {
	if h.pages == nil || h.inUse+size <= h.reserved {
		return nil
	}
	need := (h.inUse + size - h.reserved + dr.PageSize - 1) / dr.PageSize
	n := uint64(1) << bits.Len64(need*2-1)
	n = max(n, h.minChunk)

	r, err := h.pages.AllocPages(n)
	if err != nil {
		Logger().Warn("shared heap cannot grow",
			zap.Uint64("pages", n),
			zap.Uint64("reserved", h.reserved),
			zap.Error(err))
		return errors.New(errors.PhaseAlloc, errors.KindAllocation).
			Detail("failed to allocate %d bytes (align %d)", size, align).
			Cause(err).
			Build()
	}
	h.chunks = append(h.chunks, r)
	h.reserved += r.Bytes()
	Logger().Debug("shared heap grown",
		zap.Uint64("start", r.Start),
		zap.Uint64("pages", r.Count),
		zap.Uint64("reserved", h.reserved))
	if h.onGrow != nil {
		h.onGrow(r)
	}
	return nil
}

// release runs the allocation's destructor and returns its space. Only the
// first call for an allocation has any effect.
func (h *Heap) release(a *allocation) bool {
	if !a.released.CompareAndSwap(false, true) {
		return false
	}
	if !a.view {
		a.typ.dropPayload(a)
	}
	h.dealloc(a)
	return true
}

func (h *Heap) dealloc(a *allocation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.inUse -= a.layout.Footprint()
	h.live--
	if a.view {
		h.views--
	}
	h.entries[a.handle-1] = nil
	h.freeList = append(h.freeList, a.handle)
}

func (h *Heap) snapshot(owner dr.DomainID) []*allocation {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*allocation, 0, h.live)
	for _, a := range h.entries {
		if a != nil && a.owner.Load() == uint64(owner) {
			out = append(out, a)
		}
	}
	return out
}

// ReleaseOwned frees every allocation tagged to owner. Allocations for which
// forward reports true are retagged to successor instead, together with the
// nested handles they own.
func (h *Heap) ReleaseOwned(owner dr.DomainID, forward func(Info) bool, successor dr.DomainID) ReleaseResult {
	var res ReleaseResult
	owned := h.snapshot(owner)

	if forward != nil {
		for _, a := range owned {
			if a.owner.Load() != uint64(owner) || a.released.Load() {
				continue
			}
			if forward(a.info()) {
				a.retag(successor)
				res.Forwarded++
			}
		}
	}

	for _, a := range owned {
		if a.owner.Load() != uint64(owner) {
			continue
		}
		if b := a.borrows.Load(); b > 0 {
			Logger().Warn("releasing allocation with outstanding borrows",
				zap.Stringer("owner", owner),
				zap.String("type", a.typ.name),
				zap.Int32("borrows", b))
		}
		size := a.layout.Footprint()
		if h.release(a) {
			res.Freed++
			res.Bytes += size
		}
	}
	return res
}

// Lookup returns the allocation info for a handle.
func (h *Heap) Lookup(handle uint64) (Info, bool) {
	if handle == 0 {
		return Info{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if int(handle) > len(h.entries) {
		return Info{}, false
	}
	a := h.entries[handle-1]
	if a == nil {
		return Info{}, false
	}
	return a.info(), true
}

// Each iterates over all live allocations.
func (h *Heap) Each(fn func(Info) bool) {
	h.mu.Lock()
	infos := make([]Info, 0, h.live)
	for _, a := range h.entries {
		if a != nil {
			infos = append(infos, a.info())
		}
	}
	h.mu.Unlock()

	for _, i := range infos {
		if !fn(i) {
			return
		}
	}
}

// Owned returns the live allocations tagged to owner.
func (h *Heap) Owned(owner dr.DomainID) []Info {
	owned := h.snapshot(owner)
	out := make([]Info, len(owned))
	for i, a := range owned {
		out[i] = a.info()
	}
	return out
}

// Stats returns current heap usage.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		Live:     h.live,
		Views:    h.views,
		Types:    h.types.len(),
		Chunks:   len(h.chunks),
		InUse:    h.inUse,
		Reserved: h.reserved,
	}
}
