// Package shadowblk is a shadow block domain. It forwards block operations
// to a block device domain and, when that domain crashes, reloads it and
// retries the operation once.
package shadowblk

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/iface"
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/sheap"
)

// Image returns a shadow block image. Instances take the name of the block
// device domain as their Init argument.
func Image(name string) core.Image {
	return core.Image{
		Name:      name,
		Interface: iface.ShadowInterface,
		Kind:      "native",
		Entry: func(ctx context.Context, env core.Env) (proxy.Domain, error) {
			return New(env), nil
		},
	}
}

// Shadow is one shadow block domain.
type Shadow struct {
	env     core.Env
	target  core.Handle
	dev     iface.BlockDevice
	name    string
	mu      sync.Mutex
	reloads int
}

var _ iface.ShadowBlock = (*Shadow)(nil)

// New creates a shadow that is attached to its device by Init.
func New(env core.Env) *Shadow {
	return &Shadow{env: env}
}

// Init looks up the block device domain named by arg.
func (s *Shadow) Init(ctx context.Context, arg any) error {
	name, ok := arg.(string)
	if !ok || name == "" {
		return errors.InvalidArgument(errors.PhaseLoad, "shadow block needs the device domain name, got %T", arg)
	}
	h, err := s.env.Core.GetDomain(ctx, name)
	if err != nil {
		return err
	}
	dev, ok := h.(iface.BlockDevice)
	if !ok {
		return errors.TypeMismatch(errors.PhaseLoad, "iface.BlockDevice", fmt.Sprintf("%T", h))
	}

	s.mu.Lock()
	s.name, s.target, s.dev = name, h, dev
	s.mu.Unlock()
	return nil
}

// Reloads returns how many times the shadow reloaded its device.
func (s *Shadow) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

func (s *Shadow) device() (iface.BlockDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil, errors.NotInitialized(errors.PhaseDispatch, "shadow block")
	}
	return s.dev, nil
}

// recoverDevice reloads the device unless another call already did.
func (s *Shadow) recoverDevice(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target.Replaceable().IsActive() {
		return nil
	}
	Logger().Warn("block device crashed, reloading", zap.String("device", s.name))
	if err := s.env.Core.ReloadDomain(ctx, s.name); err != nil {
		return err
	}
	s.reloads++
	return nil
}

func retry[R any](ctx context.Context, s *Shadow, fn func(iface.BlockDevice) (R, error)) (R, error) {
	dev, err := s.device()
	if err != nil {
		var zero R
		return zero, err
	}
	res, err := fn(dev)
	if err == nil || !stderrors.Is(err, errors.ErrDomainCrashed) {
		return res, err
	}
	if rerr := s.recoverDevice(ctx); rerr != nil {
		return res, stderrors.Join(err, rerr)
	}
	return fn(dev)
}

// ReadBlock reads through the device. When the device crashes mid-read the
// buffer is lost with it and the retry reads into a fresh buffer.
func (s *Shadow) ReadBlock(ctx context.Context, block uint64, buf *sheap.Array[byte]) (*sheap.Array[byte], error) {
	first := true
	return retry(ctx, s, func(dev iface.BlockDevice) (*sheap.Array[byte], error) {
		if !first || !buf.Valid() {
			var err error
			buf, err = sheap.NewArray[byte](s.env.Heap, iface.BlockSize)
			if err != nil {
				return nil, err
			}
		}
		first = false
		return dev.ReadBlock(ctx, block, buf)
	})
}

func (s *Shadow) WriteBlock(ctx context.Context, block uint64, data *sheap.Array[byte]) (int, error) {
	return retry(ctx, s, func(dev iface.BlockDevice) (int, error) {
		return dev.WriteBlock(ctx, block, data)
	})
}

func (s *Shadow) Capacity(ctx context.Context) (uint64, error) {
	return retry(ctx, s, func(dev iface.BlockDevice) (uint64, error) {
		return dev.Capacity(ctx)
	})
}

func (s *Shadow) Flush(ctx context.Context) error {
	_, err := retry(ctx, s, func(dev iface.BlockDevice) (struct{}, error) {
		return struct{}{}, dev.Flush(ctx)
	})
	return err
}
