package proxy

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/continuation"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/resource"
)

// Replacement is an implementation to install with Replace.
type Replacement[T Domain] struct {
	Impl   T
	Loader LoaderInfo
	ID     dr.DomainID

	// Forward selects allocations of the outgoing domain handed to ID
	// instead of freed. Its Successor is replaced by ID. The zero value
	// frees everything.
	Forward resource.ForwardPolicy
}

// Replaceable is the untyped view of a proxy used by the domain manager.
type Replaceable interface {
	Name() string
	DomainID() dr.DomainID
	IsActive() bool
	Empty() bool
	Updating() bool
	Loader() LoaderInfo
	Stats() Stats
	InitArg() (any, bool)
	Init(ctx context.Context, arg any) error
	ReplaceDomain(ctx context.Context, id dr.DomainID, d Domain, info LoaderInfo, fwd resource.ForwardPolicy) error
	Unload(ctx context.Context) error
}

var _ Replaceable = (*Proxy[Domain])(nil)

// Replace installs r.Impl in place of the current implementation.
//
// Concurrent replaces are serialized. Once the update flag is set new calls
// take the locked slow path; the replacer then takes the writer lock, waits
// for every fast-path call already in flight, initializes the new
// implementation with the recorded Init argument and swaps it in. The old
// domain's resources are reclaimed after callers have been released.
//
// A domain must not call its own proxy from Init: the call would wait on the
// writer lock held by the replace.
func (p *Proxy[T]) Replace(ctx context.Context, r Replacement[T]) error {
	next := &instance[T]{impl: r.Impl, id: r.ID, loader: r.Loader}
	if next.loader.LoadedAt.IsZero() {
		next.loader.LoadedAt = time.Now()
	}
	fwd := r.Forward
	if fwd.Forwards() && fwd.Successor != r.ID {
		Logger().Warn("forward policy names another successor",
			zap.String("proxy", p.name),
			zap.Stringer("successor", fwd.Successor),
			zap.Stringer("new", r.ID))
	}
	fwd.Successor = r.ID
	return p.swap(ctx, next, fwd)
}

// ReplaceDomain is Replace for callers holding an untyped domain.
func (p *Proxy[T]) ReplaceDomain(ctx context.Context, id dr.DomainID, d Domain, info LoaderInfo, fwd resource.ForwardPolicy) error {
	impl, ok := d.(T)
	if !ok {
		return p.typeMismatch(d)
	}
	return p.Replace(ctx, Replacement[T]{Impl: impl, ID: id, Loader: info, Forward: fwd})
}

// Unload swaps in the empty implementation and reclaims the current domain.
func (p *Proxy[T]) Unload(ctx context.Context) error {
	return p.swap(ctx, emptyInstance[T](), resource.FreeAll())
}

func (p *Proxy[T]) swap(ctx context.Context, next *instance[T], fwd resource.ForwardPolicy) error {
	start := time.Now()

	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	old := p.cur.Load()
	log := Logger().With(
		zap.String("proxy", p.name),
		zap.Stringer("old", old.id),
		zap.Stringer("new", next.id))

	p.updating.Store(true)
	p.rw.Lock()
	p.quiesce(log)
	log.Debug("proxy quiescent")

	if !next.empty {
		arg, _ := p.InitArg()
		rec := continuation.Record{Domain: next.id, Name: p.name, Method: methodInit.Name}
		err := continuation.Run(WithCaller(ctx, dr.KernelDomain), rec, nil, func(ctx context.Context) error {
			return next.impl.Init(ctx, arg)
		})
		if err != nil {
			p.updating.Store(false)
			p.rw.Unlock()
			log.Warn("replacement failed to initialize", zap.Error(err))
			p.reclaim(log, next.id, resource.FreeAll())
			p.notify(Event{Type: EventReplaceFailed, Domain: next.id, Previous: old.id, Duration: time.Since(start), Err: err})
			return errors.New(errors.PhaseReplace, errors.KindInstantiation).
				Domain(p.name).
				Method("init").
				Detail("initialize %s", next.id).
				Cause(err).
				Build()
		}
		next.active.Store(true)
	}

	p.cur.Store(next)
	p.generation.Add(1)
	p.updating.Store(false)
	p.rw.Unlock()

	if !old.empty {
		p.reclaim(log, old.id, fwd)
	}
	p.replaces.Add(1)

	d := time.Since(start)
	log.Info("domain replaced", zap.Duration("took", d), zap.Uint64("generation", p.generation.Load()))
	p.notify(Event{Type: EventReplace, Domain: next.id, Previous: old.id, Duration: d})
	return nil
}

// quiesceHook runs when a replacer starts waiting for in-flight calls.
var quiesceHook func()

// quiesce waits until no fast-path call is in flight.
func (p *Proxy[T]) quiesce(log *zap.Logger) {
	if quiesceHook != nil {
		quiesceHook()
	}
	for i := 0; ; i++ {
		n := p.counters.Sum()
		if n == 0 {
			return
		}
		if i < p.spin {
			continue
		}
		if (i-p.spin)%100000 == 0 {
			log.Debug("waiting for in-flight calls", zap.Int64("in_flight", n))
		}
		runtime.Gosched()
	}
}

func (p *Proxy[T]) reclaim(log *zap.Logger, id dr.DomainID, fwd resource.ForwardPolicy) {
	if p.tracker == nil {
		return
	}
	if _, err := p.tracker.Reclaim(id, fwd); err != nil {
		log.Warn("reclaim domain resources", zap.Stringer("domain", id), zap.Error(err))
	}
}
