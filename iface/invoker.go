package iface

import (
	"context"

	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/sheap"
)

// Invoker runs exported functions by name. Arguments and results are flat
// uint64 words; args is moved to the domain and the result moved back.
type Invoker interface {
	proxy.Domain
	Invoke(ctx context.Context, fn string, args *sheap.Array[uint64]) (*sheap.Array[uint64], error)
	Exports(ctx context.Context) ([]string, error)
}

var (
	invokerInvoke  = proxy.Method{Name: "invoke", Recoverable: true}
	invokerExports = proxy.Method{Name: "exports", Recoverable: true, NoCheck: true}
)

// InvokerProxy serves an Invoker domain.
type InvokerProxy struct {
	*proxy.Proxy[Invoker]
}

var _ Invoker = (*InvokerProxy)(nil)

// NewInvokerProxy creates an empty invoker proxy.
func NewInvokerProxy(name string, opts proxy.Options) *InvokerProxy {
	return &InvokerProxy{Proxy: proxy.New[Invoker](name, opts)}
}

// Replaceable returns the untyped proxy.
func (p *InvokerProxy) Replaceable() proxy.Replaceable {
	return p.Proxy
}

func (p *InvokerProxy) Invoke(ctx context.Context, fn string, args *sheap.Array[uint64]) (*sheap.Array[uint64], error) {
	return proxy.Call(ctx, p.Proxy, invokerInvoke, func(ctx context.Context, d Invoker) (*sheap.Array[uint64], error) {
		return d.Invoke(ctx, fn, args)
	}, args)
}

func (p *InvokerProxy) Exports(ctx context.Context) ([]string, error) {
	return proxy.Call(ctx, p.Proxy, invokerExports, func(ctx context.Context, d Invoker) ([]string, error) {
		return d.Exports(ctx)
	})
}
