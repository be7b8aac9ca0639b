package iface

import (
	"context"
	"errors"
	"testing"

	dr "github.com/wippyai/domain-runtime"
	rterrors "github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/proxy"
)

func TestFactories(t *testing.T) {
	factories := Factories()
	if len(factories) != 3 {
		t.Fatalf("Factories has %d entries, want 3", len(factories))
	}

	tests := []struct {
		iface string
		check func(h any) bool
	}{
		{BlockInterface, func(h any) bool { _, ok := h.(BlockDevice); return ok }},
		{ShadowInterface, func(h any) bool { _, ok := h.(ShadowBlock); return ok }},
		{InvokerInterface, func(h any) bool { _, ok := h.(Invoker); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.iface, func(t *testing.T) {
			f, ok := factories[tt.iface]
			if !ok {
				t.Fatalf("no factory for %q", tt.iface)
			}
			h := f(tt.iface+"0", proxy.Options{Counters: 1})
			if !tt.check(h) {
				t.Errorf("factory built %T", h)
			}
			p := h.Replaceable()
			if p.Name() != tt.iface+"0" || !p.Empty() || p.DomainID() != dr.InvalidDomain {
				t.Errorf("proxy name=%q empty=%v id=%v", p.Name(), p.Empty(), p.DomainID())
			}
		})
	}
}

func TestEmptyProxiesUnsupported(t *testing.T) {
	ctx := context.Background()
	opts := proxy.Options{Counters: 1}

	if _, err := NewBlockProxy("blk", opts).Capacity(ctx); !errors.Is(err, rterrors.ErrUnsupported) {
		t.Errorf("block Capacity = %v", err)
	}
	if err := NewShadowProxy("sblk", opts).Flush(ctx); !errors.Is(err, rterrors.ErrUnsupported) {
		t.Errorf("shadow Flush = %v", err)
	}
	if _, err := NewInvokerProxy("inv", opts).Exports(ctx); !errors.Is(err, rterrors.ErrUnsupported) {
		t.Errorf("invoker Exports = %v", err)
	}
}
