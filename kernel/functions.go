package kernel

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/continuation"
	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/proxy"
)

var _ core.Functions = (*Kernel)(nil)

// AllocPages grants n frames to id. They are returned on id's reclaim.
func (k *Kernel) AllocPages(ctx context.Context, id dr.DomainID, n uint64) (dr.PageRange, error) {
	r, err := k.tracker.AllocPages(id, n)
	if err != nil {
		return dr.PageRange{}, err
	}
	Logger().Debug("pages granted",
		zap.Stringer("domain", id),
		zap.Uint64("start", r.Start),
		zap.Uint64("count", r.Count))
	return r, nil
}

// FreePages returns the range starting at start granted to id.
func (k *Kernel) FreePages(ctx context.Context, id dr.DomainID, start uint64) error {
	return k.tracker.FreePages(id, start)
}

// RegisterPrivateState records state to be dropped when id is reclaimed.
func (k *Kernel) RegisterPrivateState(ctx context.Context, id dr.DomainID, state any) {
	k.tracker.RegisterPrivateState(id, state)
}

// WriteConsole writes s to the console on behalf of the calling domain.
func (k *Kernel) WriteConsole(ctx context.Context, s string) {
	caller := proxy.Caller(ctx)
	Logger().Debug("console write", zap.Stringer("domain", caller), zap.Int("bytes", len(s)))

	k.consoleMu.Lock()
	defer k.consoleMu.Unlock()
	if _, err := fmt.Fprint(k.console, s); err != nil {
		Logger().Warn("console write failed", zap.Stringer("domain", caller), zap.Error(err))
	}
}

// Backtrace describes the chain of domain calls active on ctx followed by
// the goroutine stack, and logs it.
func (k *Kernel) Backtrace(ctx context.Context, id dr.DomainID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "backtrace for %s\n", id)
	for i, r := range continuation.Chain(ctx) {
		fmt.Fprintf(&b, "#%d %s %s.%s\n", i, r.Domain, r.Name, r.Method)
	}
	b.Write(debug.Stack())

	out := b.String()
	Logger().Info("domain backtrace", zap.Stringer("domain", id), zap.String("trace", out))
	return out
}

// GetDomain returns the proxy of the instance name.
func (k *Kernel) GetDomain(ctx context.Context, name string) (core.Handle, error) {
	return k.lookup(name)
}

// CreateDomain starts an instance of image served by the proxy its
// interface registers.
func (k *Kernel) CreateDomain(ctx context.Context, name, image string, arg any) (core.Handle, error) {
	return k.create(ctx, name, image, arg, nil)
}

// RegisterDomain builds an image of kind from data with the loader
// registered for kind, and registers it as ident.
func (k *Kernel) RegisterDomain(ctx context.Context, ident, kind string, data []byte) error {
	k.mu.RLock()
	l, ok := k.loaders[kind]
	k.mu.RUnlock()
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "loader", kind)
	}

	img, err := l(ctx, ident, data)
	if err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInstantiation).
			Domain(ident).
			Detail("load %s image", kind).
			Cause(err).
			Build()
	}
	img.Name = ident
	img.Kind = kind
	if img.Size == 0 {
		img.Size = len(data)
	}
	return k.RegisterImage(img)
}

// UpdateDomain replaces the instance name with image after checking that
// the image implements iface.
func (k *Kernel) UpdateDomain(ctx context.Context, name, image, iface string) error {
	k.mu.RLock()
	img, ok := k.images[image]
	k.mu.RUnlock()
	if ok && iface != "" && img.Interface != iface {
		return errors.TypeMismatch(errors.PhaseReplace, iface, img.Interface)
	}
	return k.Update(ctx, name, image)
}

// ReloadDomain reloads the instance name from its current image.
func (k *Kernel) ReloadDomain(ctx context.Context, name string) error {
	return k.Reload(ctx, name)
}

// TaskOp forwards op to the task handler.
func (k *Kernel) TaskOp(ctx context.Context, op core.TaskOperation) (core.OperationResult, error) {
	return k.tasks.TaskOp(ctx, op)
}

// yieldTasks is the task handler used when none is configured.
type yieldTasks struct{}

func (yieldTasks) TaskOp(ctx context.Context, op core.TaskOperation) (core.OperationResult, error) {
	if op.Op == core.TaskYield {
		runtime.Gosched()
		return core.OperationResult{}, nil
	}
	return core.OperationResult{}, errors.Unsupported(errors.PhaseKernel, "task operation "+op.Op.String())
}
