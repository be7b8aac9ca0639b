package proxy

import (
	"context"

	"go.uber.org/zap"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/continuation"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/sheap"
)

// Method describes how calls to one interface method are dispatched.
type Method struct {
	Name string

	// Recoverable methods run under a continuation; a panic becomes an
	// ErrDomainCrashed return and marks the domain inactive. Panics in
	// other methods propagate to the caller.
	Recoverable bool

	// NoCheck methods are attempted even when the domain is inactive.
	NoCheck bool
}

var methodInit = Method{Name: "init", Recoverable: true, NoCheck: true}

type callerKey struct{}

// WithCaller returns a context identifying id as the calling domain.
func WithCaller(ctx context.Context, id dr.DomainID) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// Caller returns the domain making calls with ctx. Calls from outside any
// domain are made by the kernel.
func Caller(ctx context.Context) dr.DomainID {
	if id, ok := ctx.Value(callerKey{}).(dr.DomainID); ok {
		return id
	}
	return dr.KernelDomain
}

// Call dispatches fn to the implementation behind p. Shared arguments are
// moved to the callee before the call. A Shared result returned without
// error is moved to the caller: the previous owner of the first argument,
// or Caller(ctx) when there are no arguments.
func Call[T Domain, R any](ctx context.Context, p *Proxy[T], m Method, fn func(context.Context, T) (R, error), args ...sheap.Shared) (R, error) {
	if p.updating.Load() {
		return callSlow(ctx, p, m, fn, args)
	}

	tok := p.counters.Inc()
	// counted before the flag is read; a replacer that set the flag waits
	// for this call or this call sees the flag
	if p.updating.Load() {
		p.counters.Dec(tok)
		return callSlow(ctx, p, m, fn, args)
	}
	defer p.counters.Dec(tok)

	p.fast.Add(1)
	p.dispatched(m, false)
	return invoke(ctx, p, p.cur.Load(), m, fn, args)
}

// Do is Call for methods without a result value.
func Do[T Domain](ctx context.Context, p *Proxy[T], m Method, fn func(context.Context, T) error, args ...sheap.Shared) error {
	_, err := Call(ctx, p, m, func(ctx context.Context, d T) (struct{}, error) {
		return struct{}{}, fn(ctx, d)
	}, args...)
	return err
}

func callSlow[T Domain, R any](ctx context.Context, p *Proxy[T], m Method, fn func(context.Context, T) (R, error), args []sheap.Shared) (R, error) {
	p.rw.RLock()
	defer p.rw.RUnlock()

	p.slow.Add(1)
	p.dispatched(m, true)
	return invoke(ctx, p, p.cur.Load(), m, fn, args)
}

func (p *Proxy[T]) dispatched(m Method, slow bool) {
	if len(p.observers) == 0 {
		return
	}
	p.notify(Event{Type: EventDispatch, Method: m.Name, Slow: slow})
}

func invoke[T Domain, R any](ctx context.Context, p *Proxy[T], inst *instance[T], m Method, fn func(context.Context, T) (R, error), args []sheap.Shared) (R, error) {
	var zero R

	if inst.empty {
		return zero, errors.New(errors.PhaseDispatch, errors.KindUnsupported).
			Domain(p.name).
			Method(m.Name).
			Detail("no domain installed").
			Build()
	}
	if !m.NoCheck && !inst.active.Load() {
		return zero, errors.DomainCrashed(p.name, m.Name, nil)
	}

	caller := Caller(ctx)
	for i, a := range args {
		if !sheap.Present(a) {
			continue
		}
		if !a.Valid() {
			return zero, errors.New(errors.PhaseTransfer, errors.KindInvalidArgument).
				Domain(p.name).
				Method(m.Name).
				Detail("argument %d was released", i).
				Build()
		}
		old := a.MoveTo(inst.id)
		if i == 0 {
			caller = old
		}
	}

	ctx = WithCaller(ctx, inst.id)
	call := func(ctx context.Context) (R, error) {
		return fn(ctx, inst.impl)
	}

	var res R
	var err error
	if m.Recoverable {
		rec := continuation.Record{Domain: inst.id, Name: p.name, Method: m.Name}
		res, err = continuation.Call(ctx, rec, func(c continuation.Crash) {
			p.crashed(inst, m, c)
		}, call)
	} else {
		res, err = call(ctx)
	}

	if err == nil {
		if s, ok := any(res).(sheap.Shared); ok && sheap.Present(s) && s.Valid() {
			s.MoveTo(caller)
		}
	}
	return res, err
}

func (p *Proxy[T]) crashed(inst *instance[T], m Method, c continuation.Crash) {
	if inst.active.CompareAndSwap(true, false) {
		Logger().Error("domain marked inactive",
			zap.String("proxy", p.name),
			zap.Stringer("domain", inst.id),
			zap.String("method", m.Name),
			zap.Any("panic", c.Value))
	}
	p.crashes.Add(1)
	p.notify(Event{Type: EventCrash, Method: m.Name, Domain: inst.id})
}
