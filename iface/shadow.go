package iface

import (
	"context"

	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/sheap"
)

// ShadowBlock fronts a block device domain and keeps serving while the
// device behind it is recovered. Init takes the name of the device domain.
type ShadowBlock interface {
	proxy.Domain
	ReadBlock(ctx context.Context, block uint64, buf *sheap.Array[byte]) (*sheap.Array[byte], error)
	WriteBlock(ctx context.Context, block uint64, data *sheap.Array[byte]) (int, error)
	Capacity(ctx context.Context) (uint64, error)
	Flush(ctx context.Context) error
}

// Shadow methods skip the active check: a shadow is expected to answer even
// after one of its calls panicked.
var (
	shadowRead     = proxy.Method{Name: "read_block", Recoverable: true, NoCheck: true}
	shadowWrite    = proxy.Method{Name: "write_block", Recoverable: true, NoCheck: true}
	shadowCapacity = proxy.Method{Name: "capacity", Recoverable: true, NoCheck: true}
	shadowFlush    = proxy.Method{Name: "flush", Recoverable: true, NoCheck: true}
)

// ShadowProxy serves a ShadowBlock domain.
type ShadowProxy struct {
	*proxy.Proxy[ShadowBlock]
}

var _ ShadowBlock = (*ShadowProxy)(nil)

// NewShadowProxy creates an empty shadow proxy.
func NewShadowProxy(name string, opts proxy.Options) *ShadowProxy {
	return &ShadowProxy{Proxy: proxy.New[ShadowBlock](name, opts)}
}

// Replaceable returns the untyped proxy.
func (p *ShadowProxy) Replaceable() proxy.Replaceable {
	return p.Proxy
}

func (p *ShadowProxy) ReadBlock(ctx context.Context, block uint64, buf *sheap.Array[byte]) (*sheap.Array[byte], error) {
	return proxy.Call(ctx, p.Proxy, shadowRead, func(ctx context.Context, d ShadowBlock) (*sheap.Array[byte], error) {
		return d.ReadBlock(ctx, block, buf)
	}, buf)
}

func (p *ShadowProxy) WriteBlock(ctx context.Context, block uint64, data *sheap.Array[byte]) (int, error) {
	return proxy.Call(ctx, p.Proxy, shadowWrite, func(ctx context.Context, d ShadowBlock) (int, error) {
		return d.WriteBlock(ctx, block, data)
	})
}

func (p *ShadowProxy) Capacity(ctx context.Context) (uint64, error) {
	return proxy.Call(ctx, p.Proxy, shadowCapacity, func(ctx context.Context, d ShadowBlock) (uint64, error) {
		return d.Capacity(ctx)
	})
}

func (p *ShadowProxy) Flush(ctx context.Context) error {
	return proxy.Do(ctx, p.Proxy, shadowFlush, func(ctx context.Context, d ShadowBlock) error {
		return d.Flush(ctx)
	})
}
