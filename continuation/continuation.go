// Package continuation turns panics inside domain calls into error returns.
//
// Before a recoverable call the caller pushes a Record onto the
// continuation stack carried by its context. If the domain panics, the
// innermost record catches it and the call returns the record's sentinel
// error; on normal return the record is popped and discarded. Nested calls
// through several proxies stack their records, so a panic is always charged
// to the innermost recoverable call.
//
// Containment covers the calling goroutine only. A panic on a goroutine the
// domain started itself still terminates the process.
package continuation

import (
	"context"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/errors"
)

// Record is one saved resumption point.
type Record struct {
	// Sentinel is returned to the caller when a panic is caught. When nil a
	// DomainCrashed error naming the method is used.
	Sentinel error
	parent   *Record
	Name     string
	Method   string
	Domain   dr.DomainID
	depth    int
}

// Depth returns the number of records below this one.
func (r *Record) Depth() int {
	return r.depth
}

// Parent returns the enclosing record, or nil.
func (r *Record) Parent() *Record {
	return r.parent
}

// Crash describes a caught panic.
type Crash struct {
	Value  any
	Record *Record
	Stack  []byte
}

type ctxKey struct{}

var (
	active atomic.Int64
	caught atomic.Uint64
)

// Push returns a context carrying rec on top of the stack in ctx.
func Push(ctx context.Context, rec Record) (context.Context, *Record) {
	r := rec
	r.parent = Current(ctx)
	if r.parent != nil {
		r.depth = r.parent.depth + 1
	}
	return context.WithValue(ctx, ctxKey{}, &r), &r
}

// Current returns the innermost record in ctx, or nil.
func Current(ctx context.Context) *Record {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(ctxKey{}).(*Record)
	return r
}

// Chain returns the records in ctx, innermost first.
func Chain(ctx context.Context) []Record {
	var out []Record
	for r := Current(ctx); r != nil; r = r.parent {
		out = append(out, *r)
	}
	return out
}

// Active returns the number of records currently pushed across all goroutines.
func Active() int64 {
	return active.Load()
}

// Caught returns the number of panics converted to errors so far.
func Caught() uint64 {
	return caught.Load()
}

// Call runs fn under a new continuation record. If fn panics the panic is
// recovered, onCrash (if set) is told about it, and Call returns the zero R
// with the record's sentinel error.
func Call[R any](ctx context.Context, rec Record, onCrash func(Crash), fn func(context.Context) (R, error)) (res R, err error) {
	ctx, r := Push(ctx, rec)
	active.Add(1)

	defer func() {
		active.Add(-1)
		v := recover()
		if v == nil {
			return
		}
		caught.Add(1)
		crash := Crash{Value: v, Record: r, Stack: debug.Stack()}

		Logger().Error("domain panic contained",
			zap.Stringer("domain", r.Domain),
			zap.String("proxy", r.Name),
			zap.String("method", r.Method),
			zap.Int("depth", r.depth),
			zap.Any("panic", v),
			zap.ByteString("stack", crash.Stack))

		if onCrash != nil {
			onCrash(crash)
		}

		var zero R
		res = zero
		err = r.Sentinel
		if err == nil {
			e := errors.DomainCrashed(r.Name, r.Method, v)
			if pe, ok := v.(error); ok {
				e.Cause = pe
			}
			err = e
		}
	}()

	return fn(ctx)
}

// Run is Call for functions without a result value.
func Run(ctx context.Context, rec Record, onCrash func(Crash), fn func(context.Context) error) error {
	_, err := Call(ctx, rec, onCrash, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
