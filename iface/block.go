package iface

import (
	"context"

	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/sheap"
)

// BlockSize is the size of one device block in bytes.
const BlockSize = 512

// BlockDevice is a block storage device.
//
// ReadBlock takes ownership of buf and hands it back filled. WriteBlock
// only borrows data; it stays with the caller.
type BlockDevice interface {
	proxy.Domain
	ReadBlock(ctx context.Context, block uint64, buf *sheap.Array[byte]) (*sheap.Array[byte], error)
	WriteBlock(ctx context.Context, block uint64, data *sheap.Array[byte]) (int, error)
	Capacity(ctx context.Context) (uint64, error)
	Flush(ctx context.Context) error
}

var (
	blockRead     = proxy.Method{Name: "read_block", Recoverable: true}
	blockWrite    = proxy.Method{Name: "write_block", Recoverable: true}
	blockCapacity = proxy.Method{Name: "capacity", Recoverable: true}
	blockFlush    = proxy.Method{Name: "flush", Recoverable: true}
)

// BlockProxy serves a BlockDevice domain.
type BlockProxy struct {
	*proxy.Proxy[BlockDevice]
}

var _ BlockDevice = (*BlockProxy)(nil)

// NewBlockProxy creates an empty block proxy.
func NewBlockProxy(name string, opts proxy.Options) *BlockProxy {
	return &BlockProxy{Proxy: proxy.New[BlockDevice](name, opts)}
}

// Replaceable returns the untyped proxy.
func (p *BlockProxy) Replaceable() proxy.Replaceable {
	return p.Proxy
}

func (p *BlockProxy) ReadBlock(ctx context.Context, block uint64, buf *sheap.Array[byte]) (*sheap.Array[byte], error) {
	return proxy.Call(ctx, p.Proxy, blockRead, func(ctx context.Context, d BlockDevice) (*sheap.Array[byte], error) {
		return d.ReadBlock(ctx, block, buf)
	}, buf)
}

func (p *BlockProxy) WriteBlock(ctx context.Context, block uint64, data *sheap.Array[byte]) (int, error) {
	return proxy.Call(ctx, p.Proxy, blockWrite, func(ctx context.Context, d BlockDevice) (int, error) {
		return d.WriteBlock(ctx, block, data)
	})
}

func (p *BlockProxy) Capacity(ctx context.Context) (uint64, error) {
	return proxy.Call(ctx, p.Proxy, blockCapacity, func(ctx context.Context, d BlockDevice) (uint64, error) {
		return d.Capacity(ctx)
	})
}

func (p *BlockProxy) Flush(ctx context.Context) error {
	return proxy.Do(ctx, p.Proxy, blockFlush, func(ctx context.Context, d BlockDevice) error {
		return d.Flush(ctx)
	})
}
