package proxy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/continuation"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/resource"
)

// Domain is implemented by every domain served through a proxy.
type Domain interface {
	// Init prepares the domain with the construction argument recorded by
	// the proxy.
	Init(ctx context.Context, arg any) error
}

// Reclaimer releases the resources of a replaced domain.
type Reclaimer interface {
	Reclaim(id dr.DomainID, policy resource.ForwardPolicy) (resource.Report, error)
}

// Options configures a proxy.
type Options struct {
	Tracker   Reclaimer
	Observers []Observer

	// Counters is the number of call counter stripes; 0 uses the physical
	// core count.
	Counters int

	// Spin is the number of busy iterations of the quiescence wait before it
	// starts yielding.
	Spin int
}

type instance[T Domain] struct {
	impl   T
	loader LoaderInfo
	id     dr.DomainID
	active atomic.Bool
	empty  bool
}

func emptyInstance[T Domain]() *instance[T] {
	return &instance[T]{id: dr.InvalidDomain, empty: true}
}

// Proxy is the object callers hold for one domain interface. It serves
// calls from the current implementation and swaps implementations without
// stopping callers.
type Proxy[T Domain] struct {
	tracker   Reclaimer
	arg       any
	cur       atomic.Pointer[instance[T]]
	counters  *Counters
	name      string
	observers []Observer
	spin      int
	rw        sync.RWMutex
	updateMu  sync.Mutex
	argMu     sync.Mutex
	updating  atomic.Bool
	argSet    bool

	fast       atomic.Uint64
	slow       atomic.Uint64
	crashes    atomic.Uint64
	replaces   atomic.Uint64
	generation atomic.Uint64
}

// New creates a proxy serving the empty implementation.
func New[T Domain](name string, opts Options) *Proxy[T] {
	p := &Proxy[T]{
		name:      name,
		tracker:   opts.Tracker,
		counters:  NewCounters(opts.Counters),
		observers: opts.Observers,
		spin:      opts.Spin,
	}
	p.cur.Store(emptyInstance[T]())
	return p
}

// Name returns the proxy name.
func (p *Proxy[T]) Name() string {
	return p.name
}

// DomainID returns the id of the current implementation, or
// InvalidDomain when the proxy is empty.
func (p *Proxy[T]) DomainID() dr.DomainID {
	return p.cur.Load().id
}

// IsActive reports whether the current implementation accepts checked calls.
func (p *Proxy[T]) IsActive() bool {
	return p.cur.Load().active.Load()
}

// Empty reports whether no implementation is installed.
func (p *Proxy[T]) Empty() bool {
	return p.cur.Load().empty
}

// Updating reports whether a replace is in progress.
func (p *Proxy[T]) Updating() bool {
	return p.updating.Load()
}

// Loader returns metadata about the current implementation's image.
func (p *Proxy[T]) Loader() LoaderInfo {
	return p.cur.Load().loader
}

// Stats returns call and replace counters.
func (p *Proxy[T]) Stats() Stats {
	return Stats{
		FastCalls:  p.fast.Load(),
		SlowCalls:  p.slow.Load(),
		Crashes:    p.crashes.Load(),
		Replaces:   p.replaces.Load(),
		Generation: p.generation.Load(),
		InFlight:   p.counters.Sum(),
	}
}

// InitArg returns the argument recorded by Init.
func (p *Proxy[T]) InitArg() (any, bool) {
	p.argMu.Lock()
	defer p.argMu.Unlock()
	return p.arg, p.argSet
}

// Init records arg for later replaces and initializes the current
// implementation with it. On an empty proxy it only records arg. Init waits
// for a replace in progress; a panic in the domain's Init is contained and
// marks the domain inactive.
func (p *Proxy[T]) Init(ctx context.Context, arg any) error {
	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	p.argMu.Lock()
	p.arg = arg
	p.argSet = true
	p.argMu.Unlock()

	inst := p.cur.Load()
	if inst.empty {
		return nil
	}
	rec := continuation.Record{Domain: inst.id, Name: p.name, Method: methodInit.Name}
	return continuation.Run(WithCaller(ctx, dr.KernelDomain), rec, func(c continuation.Crash) {
		p.crashed(inst, methodInit, c)
	}, func(ctx context.Context) error {
		return inst.impl.Init(ctx, arg)
	})
}

// Current returns the implementation serving calls. It is meant for
// diagnostics; calls made on it bypass the proxy.
func (p *Proxy[T]) Current() (T, bool) {
	inst := p.cur.Load()
	return inst.impl, !inst.empty
}

// Subscribe adds an observer. It must be called before the proxy is shared.
func (p *Proxy[T]) Subscribe(o Observer) {
	p.observers = append(p.observers, o)
}

func (p *Proxy[T]) notify(e Event) {
	e.Proxy = p.name
	for _, o := range p.observers {
		o.OnProxyEvent(e)
	}
}

func (p *Proxy[T]) String() string {
	return fmt.Sprintf("proxy %s (%s)", p.name, p.DomainID())
}

func (p *Proxy[T]) typeMismatch(d any) error {
	var zero *T
	return errors.New(errors.PhaseReplace, errors.KindTypeMismatch).
		Domain(p.name).
		TypeName(fmt.Sprintf("%T", d)).
		Detail("domain does not implement %T", zero).
		Build()
}
