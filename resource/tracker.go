package resource

import (
	stderrors "errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/sheap"
)

// SharedHeap is the part of the shared heap a reclaim needs.
type SharedHeap interface {
	ReleaseOwned(owner dr.DomainID, forward func(sheap.Info) bool, successor dr.DomainID) sheap.ReleaseResult
}

type entry struct {
	state  any
	ranges []dr.PageRange
}

// Tracker records the pages and private state granted to each domain and
// releases them in bulk.
type Tracker struct {
	heap      SharedHeap
	pages     dr.PageAllocator
	domains   map[dr.DomainID]*entry
	observers []Observer
	mu        sync.Mutex
	obsMu     sync.RWMutex
}

// NewTracker creates a tracker. heap may be nil when no shared heap exists.
func NewTracker(pages dr.PageAllocator, heap SharedHeap) *Tracker {
	return &Tracker{
		heap:    heap,
		pages:   pages,
		domains: make(map[dr.DomainID]*entry),
	}
}

func (t *Tracker) entryLocked(id dr.DomainID) *entry {
	e, ok := t.domains[id]
	if !ok {
		e = &entry{}
		t.domains[id] = e
	}
	return e
}

// RegisterPages records r as granted to id. Ranges are kept ordered by start.
func (t *Tracker) RegisterPages(id dr.DomainID, r dr.PageRange) {
	t.mu.Lock()
	e := t.entryLocked(id)
	i, _ := slices.BinarySearchFunc(e.ranges, r.Start, func(x dr.PageRange, start uint64) int {
		switch {
		case x.Start < start:
			return -1
		case x.Start > start:
			return 1
		}
		return 0
	})
	e.ranges = slices.Insert(e.ranges, i, r)
	t.mu.Unlock()

	t.notify(Event{Type: EventPagesRegistered, Domain: id, Pages: r})
}

// UnregisterPages forgets the range of id starting at start.
func (t *Tracker) UnregisterPages(id dr.DomainID, start uint64) (dr.PageRange, bool) {
	t.mu.Lock()
	e, ok := t.domains[id]
	if !ok {
		t.mu.Unlock()
		return dr.PageRange{}, false
	}
	i := slices.IndexFunc(e.ranges, func(r dr.PageRange) bool { return r.Start == start })
	if i < 0 {
		t.mu.Unlock()
		return dr.PageRange{}, false
	}
	r := e.ranges[i]
	e.ranges = slices.Delete(e.ranges, i, i+1)
	t.mu.Unlock()

	t.notify(Event{Type: EventPagesUnregistered, Domain: id, Pages: r})
	return r, true
}

// AllocPages grants n pages to id from the page allocator.
func (t *Tracker) AllocPages(id dr.DomainID, n uint64) (dr.PageRange, error) {
	if t.pages == nil {
		return dr.PageRange{}, errors.NotInitialized(errors.PhaseAlloc, "page allocator")
	}
	r, err := t.pages.AllocPages(n)
	if err != nil {
		return dr.PageRange{}, err
	}
	t.RegisterPages(id, r)
	return r, nil
}

// FreePages returns a range previously granted to id.
func (t *Tracker) FreePages(id dr.DomainID, start uint64) error {
	r, ok := t.UnregisterPages(id, start)
	if !ok {
		return errors.New(errors.PhaseReclaim, errors.KindNotFound).
			Domain(id.String()).
			Detail("no page range starting at %d", start).
			Build()
	}
	if t.pages == nil {
		return nil
	}
	return t.pages.FreePages(r)
}

// Pages returns the ranges registered for id.
func (t *Tracker) Pages(id dr.DomainID) []dr.PageRange {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.domains[id]; ok {
		return slices.Clone(e.ranges)
	}
	return nil
}

// RegisterPrivateState records the domain's private state. A domain has at
// most one; replacing an unreclaimed one is logged and the old value dropped.
func (t *Tracker) RegisterPrivateState(id dr.DomainID, state any) {
	t.mu.Lock()
	e := t.entryLocked(id)
	prev := e.state
	e.state = state
	t.mu.Unlock()

	if prev != nil {
		Logger().Warn("private state registered twice",
			zap.Stringer("domain", id))
		if d, ok := prev.(Dropper); ok {
			d.Drop()
		}
	}
	t.notify(Event{Type: EventStateRegistered, Domain: id, Value: state})
}

// PrivateState returns the state registered for id.
func (t *Tracker) PrivateState(id dr.DomainID) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.domains[id]; ok && e.state != nil {
		return e.state, true
	}
	return nil, false
}

// Domains returns the ids with registered resources.
func (t *Tracker) Domains() []dr.DomainID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]dr.DomainID, 0, len(t.domains))
	for id := range t.domains {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Reclaim releases everything owned by id: shared allocations not kept by
// policy, then page ranges, then private state. Reclaiming a domain with
// nothing registered is a no-op. Page release failures are returned after
// every other resource has been released.
func (t *Tracker) Reclaim(id dr.DomainID, policy ForwardPolicy) (Report, error) {
	rep := Report{Domain: id, Successor: policy.Successor}

	if t.heap != nil {
		var keep func(sheap.Info) bool
		if policy.Forwards() {
			keep = policy.Keeps
		}
		res := t.heap.ReleaseOwned(id, keep, policy.Successor)
		rep.FreedAllocations = res.Freed
		rep.ForwardedAllocations = res.Forwarded
		rep.HeapBytes = res.Bytes
	}

	t.mu.Lock()
	e, ok := t.domains[id]
	delete(t.domains, id)
	t.mu.Unlock()

	var errs []error
	if ok {
		for _, r := range e.ranges {
			rep.PageRanges++
			rep.Pages += r.Count
			if t.pages == nil {
				continue
			}
			if err := t.pages.FreePages(r); err != nil {
				Logger().Warn("free domain pages",
					zap.Stringer("domain", id),
					zap.Uint64("start", r.Start),
					zap.Uint64("count", r.Count),
					zap.Error(err))
				errs = append(errs, err)
			}
		}
		if e.state != nil {
			if d, ok := e.state.(Dropper); ok {
				d.Drop()
			}
			rep.StateDropped = true
		}
	}

	if !rep.Empty() {
		Logger().Info("domain resources reclaimed",
			zap.Stringer("domain", id),
			zap.Stringer("successor", policy.Successor),
			zap.Int("freed", rep.FreedAllocations),
			zap.Int("forwarded", rep.ForwardedAllocations),
			zap.Uint64("pages", rep.Pages),
			zap.Bool("state", rep.StateDropped))
	}
	t.notify(Event{Type: EventReclaimed, Domain: id, Report: &rep})

	if len(errs) > 0 {
		return rep, errors.Wrap(errors.PhaseReclaim, errors.KindInvalidArgument, stderrors.Join(errs...), "release page ranges")
	}
	return rep, nil
}

// Subscribe adds an observer for lifecycle events.
func (t *Tracker) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Tracker) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Tracker) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
