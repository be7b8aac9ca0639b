// Package ramblk is a RAM-backed block device domain.
//
// The device contents live in the storage side-channel, so a reloaded
// instance sees the blocks its crashed predecessor wrote. A positive crash
// budget makes the device panic once it has served that many block
// operations, which is how tests and the demo exercise crash recovery.
package ramblk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/iface"
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/sheap"
	"github.com/wippyai/domain-runtime/storage"
)

// Image returns a ramblk image with the given geometry. crashAfter of 0
// disables fault injection.
func Image(name string, blocks uint64, crashAfter int64) core.Image {
	return core.Image{
		Name:      name,
		Interface: iface.BlockInterface,
		Kind:      "native",
		Entry: func(ctx context.Context, env core.Env) (proxy.Domain, error) {
			return New(env, blocks, crashAfter), nil
		},
	}
}

// Device is one ramblk domain.
type Device struct {
	env        core.Env
	disk       *sheap.Array[byte]
	blocks     uint64
	crashAfter int64
	ops        atomic.Int64
	mu         sync.RWMutex
}

var _ iface.BlockDevice = (*Device)(nil)

// New creates a device. It holds no memory until Init.
func New(env core.Env, blocks uint64, crashAfter int64) *Device {
	return &Device{env: env, blocks: blocks, crashAfter: crashAfter}
}

// StorageKey is the storage key holding the contents of the device
// served by the proxy name.
func StorageKey(name string) string {
	return "ramblk/" + name
}

// Init attaches the device contents, creating them on first use. arg is
// ignored.
func (d *Device) Init(ctx context.Context, arg any) error {
	size := int(d.blocks * iface.BlockSize)
	disk, err := storage.GetOrInsertWith(d.env.Storage, StorageKey(d.env.Name), func() (*sheap.Array[byte], error) {
		return sheap.NewArray[byte](d.env.Storage.Scope(), size)
	})
	if err != nil {
		return err
	}
	if disk.Len() != size {
		return errors.InvalidArgument(errors.PhaseLoad, "stored disk has %d bytes, device needs %d", disk.Len(), size)
	}

	d.mu.Lock()
	d.disk = disk
	d.mu.Unlock()

	d.env.Core.RegisterPrivateState(ctx, d.env.ID, d)
	Logger().Debug("ramblk attached",
		zap.String("name", d.env.Name),
		zap.Stringer("domain", d.env.ID),
		zap.Uint64("blocks", d.blocks))
	return nil
}

// Drop detaches the device from its contents when the domain is reclaimed.
func (d *Device) Drop() {
	d.mu.Lock()
	d.disk = nil
	d.mu.Unlock()
}

func (d *Device) tick() {
	if d.crashAfter <= 0 {
		return
	}
	if n := d.ops.Add(1); n > d.crashAfter {
		panic(fmt.Sprintf("ramblk %s: injected fault after %d operations", d.env.Name, d.crashAfter))
	}
}

func (d *Device) span(block uint64, buf *sheap.Array[byte]) (int, error) {
	if block >= d.blocks {
		return 0, errors.InvalidArgument(errors.PhaseDispatch, "block %d out of range (%d blocks)", block, d.blocks)
	}
	if buf == nil || buf.Len() < iface.BlockSize {
		return 0, errors.InvalidArgument(errors.PhaseDispatch, "buffer shorter than one block")
	}
	if d.disk == nil {
		return 0, errors.NotInitialized(errors.PhaseDispatch, "ramblk "+d.env.Name)
	}
	return int(block * iface.BlockSize), nil
}

func (d *Device) ReadBlock(ctx context.Context, block uint64, buf *sheap.Array[byte]) (*sheap.Array[byte], error) {
	d.tick()
	d.mu.RLock()
	defer d.mu.RUnlock()
	off, err := d.span(block, buf)
	if err != nil {
		return nil, err
	}
	copy(buf.Slice()[:iface.BlockSize], d.disk.Slice()[off:off+iface.BlockSize])
	return buf, nil
}

func (d *Device) WriteBlock(ctx context.Context, block uint64, data *sheap.Array[byte]) (int, error) {
	d.tick()
	d.mu.Lock()
	defer d.mu.Unlock()
	off, err := d.span(block, data)
	if err != nil {
		return 0, err
	}
	return copy(d.disk.Slice()[off:off+iface.BlockSize], data.Slice()[:iface.BlockSize]), nil
}

func (d *Device) Capacity(ctx context.Context) (uint64, error) {
	return d.blocks * iface.BlockSize, nil
}

func (d *Device) Flush(ctx context.Context) error {
	d.tick()
	return nil
}
