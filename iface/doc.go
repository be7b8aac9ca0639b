// Package iface defines the domain interfaces served by the kernel and the
// proxies callers hold for them.
//
// Each proxy implements its interface by routing every method through
// proxy.Call with a per-method descriptor, so callers cannot tell a proxy
// from a direct implementation except through the error values a crashed
// domain produces.
package iface

import (
	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/proxy"
)

// Interface names used in image metadata and configuration.
const (
	BlockInterface   = "block"
	ShadowInterface  = "shadow"
	InvokerInterface = "invoker"
)

// Factories returns the proxy factory of every interface in this package,
// keyed by interface name.
func Factories() map[string]core.ProxyFactory {
	return map[string]core.ProxyFactory{
		BlockInterface: func(name string, opts proxy.Options) core.Handle {
			return NewBlockProxy(name, opts)
		},
		ShadowInterface: func(name string, opts proxy.Options) core.Handle {
			return NewShadowProxy(name, opts)
		},
		InvokerInterface: func(name string, opts proxy.Options) core.Handle {
			return NewInvokerProxy(name, opts)
		},
	}
}
