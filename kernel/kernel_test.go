package kernel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/domains/ramblk"
	"github.com/wippyai/domain-runtime/domains/shadowblk"
	rterrors "github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/iface"
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/resource"
	"github.com/wippyai/domain-runtime/sheap"
)

func newKernel(t *testing.T) (*Kernel, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	k, err := New(Options{Frames: 1024, Console: &console, Counters: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = k.Close(context.Background()) })
	return k, &console
}

func block(t *testing.T, k *Kernel, fill byte) *sheap.Array[byte] {
	t.Helper()
	buf, err := sheap.NewArray[byte](k.Scope(), iface.BlockSize)
	if err != nil {
		t.Fatalf("NewArray failed: %v", err)
	}
	for i := range buf.Slice() {
		buf.Slice()[i] = fill
	}
	return buf
}

func TestCreate_ServesCalls(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	if err := k.RegisterImage(ramblk.Image("ram", 8, 0)); err != nil {
		t.Fatalf("RegisterImage failed: %v", err)
	}

	blk, err := Create(ctx, k, "blk0", "ram", iface.NewBlockProxy)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if blk.DomainID() != 1 {
		t.Errorf("first domain id = %v, want 1", blk.DomainID())
	}

	capacity, err := blk.Capacity(ctx)
	if err != nil || capacity != 8*iface.BlockSize {
		t.Fatalf("Capacity = %d, %v", capacity, err)
	}

	data := block(t, k, 0xab)
	if n, err := blk.WriteBlock(ctx, 3, data); err != nil || n != iface.BlockSize {
		t.Fatalf("WriteBlock = %d, %v", n, err)
	}
	if data.Owner() != dr.KernelDomain {
		t.Errorf("borrowed write buffer moved to %v", data.Owner())
	}

	out, err := blk.ReadBlock(ctx, 3, block(t, k, 0))
	if err != nil {
		t.Fatalf("ReadBlock failed: %v", err)
	}
	if out.Owner() != dr.KernelDomain {
		t.Errorf("read buffer owner = %v, want kernel", out.Owner())
	}
	if out.Slice()[0] != 0xab || out.Slice()[iface.BlockSize-1] != 0xab {
		t.Errorf("read back %x", out.Slice()[:4])
	}

	got, err := Get[*iface.BlockProxy](k, "blk0")
	if err != nil || got != blk {
		t.Errorf("Get = %p, %v; want %p", got, err, blk)
	}
	if _, err := Get[*iface.InvokerProxy](k, "blk0"); !errors.Is(err, &rterrors.Error{Kind: rterrors.KindTypeMismatch}) {
		t.Errorf("Get with wrong type: %v", err)
	}
}

func TestCreate_Errors(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	if err := k.RegisterImage(ramblk.Image("ram", 4, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := Create(ctx, k, "blk0", "ram", iface.NewBlockProxy); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		err  func() error
		kind rterrors.Kind
	}{
		{"unknown image", func() error {
			_, err := Create(ctx, k, "blk1", "missing", iface.NewBlockProxy)
			return err
		}, rterrors.KindNotFound},
		{"duplicate name", func() error {
			_, err := Create(ctx, k, "blk0", "ram", iface.NewBlockProxy)
			return err
		}, rterrors.KindAlreadyExists},
		{"unknown interface", func() error {
			img := ramblk.Image("odd", 1, 0)
			img.Interface = "tape"
			return k.RegisterImage(img)
		}, rterrors.KindNotFound},
		{"missing entry", func() error {
			return k.RegisterImage(core.Image{Name: "void", Interface: iface.BlockInterface})
		}, rterrors.KindInvalidArgument},
		{"unknown domain", func() error {
			_, err := k.GetDomain(ctx, "nope")
			return err
		}, rterrors.KindNotFound},
		{"reload unknown", func() error {
			return k.Reload(ctx, "nope")
		}, rterrors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.err()
			if !errors.Is(err, &rterrors.Error{Kind: tt.kind}) {
				t.Errorf("error = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestCreate_EntryFailure(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	img := core.Image{
		Name:      "bad",
		Interface: iface.BlockInterface,
		Entry: func(ctx context.Context, env core.Env) (proxy.Domain, error) {
			panic("entry fault")
		},
	}
	if err := k.RegisterImage(img); err != nil {
		t.Fatal(err)
	}

	_, err := Create(ctx, k, "blk0", "bad", iface.NewBlockProxy)
	if !errors.Is(err, &rterrors.Error{Kind: rterrors.KindInstantiation}) {
		t.Fatalf("error = %v, want instantiation", err)
	}
	if _, err := k.GetDomain(ctx, "blk0"); err == nil {
		t.Error("failed domain still registered")
	}
}

type notBlock struct{}

func (notBlock) Init(context.Context, any) error { return nil }

func TestCreate_WrongDomainTypeReclaims(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)

	var (
		id      dr.DomainID
		scratch *sheap.Value[uint64]
	)
	img := core.Image{
		Name:      "tape",
		Interface: iface.BlockInterface,
		Entry: func(ctx context.Context, env core.Env) (proxy.Domain, error) {
			id = env.ID
			if _, err := env.Core.AllocPages(ctx, env.ID, 2); err != nil {
				return nil, err
			}
			env.Core.RegisterPrivateState(ctx, env.ID, "tape state")
			v, err := sheap.NewValue(env.Heap, uint64(7))
			if err != nil {
				return nil, err
			}
			scratch = v
			return notBlock{}, nil
		},
	}
	if err := k.RegisterImage(img); err != nil {
		t.Fatal(err)
	}
	used, reserved := k.Pages().Used(), k.Heap().Stats().Reserved

	_, err := Create(ctx, k, "blk0", "tape", iface.NewBlockProxy)
	if !errors.Is(err, &rterrors.Error{Kind: rterrors.KindTypeMismatch}) {
		t.Fatalf("error = %v, want type mismatch", err)
	}
	if scratch.Valid() {
		t.Error("heap value of the rejected domain survived")
	}
	if got := k.Tracker().Pages(id); len(got) != 0 {
		t.Errorf("pages still registered: %v", got)
	}
	if _, ok := k.Tracker().PrivateState(id); ok {
		t.Error("private state of the rejected domain survived")
	}
	// only heap growth stays allocated
	grown := (k.Heap().Stats().Reserved - reserved) / dr.PageSize
	if got := k.Pages().Used(); got != used+grown {
		t.Errorf("frames used = %d, want %d", got, used+grown)
	}
}

func TestCrashAndReload(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	if err := k.RegisterImage(ramblk.Image("ram", 8, 2)); err != nil {
		t.Fatal(err)
	}
	blk, err := Create(ctx, k, "blk0", "ram", iface.NewBlockProxy)
	if err != nil {
		t.Fatal(err)
	}
	first := blk.DomainID()

	if _, err := blk.WriteBlock(ctx, 1, block(t, k, 7)); err != nil {
		t.Fatal(err)
	}
	if _, err := blk.ReadBlock(ctx, 1, block(t, k, 0)); err != nil {
		t.Fatal(err)
	}

	lost := block(t, k, 0)
	_, err = blk.ReadBlock(ctx, 1, lost)
	if !errors.Is(err, rterrors.ErrDomainCrashed) {
		t.Fatalf("third op error = %v, want domain crashed", err)
	}
	if blk.IsActive() {
		t.Error("crashed domain still active")
	}
	if _, err := blk.Capacity(ctx); !errors.Is(err, rterrors.ErrDomainCrashed) {
		t.Errorf("call on inactive domain: %v", err)
	}

	if err := k.Reload(ctx, "blk0"); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if blk.DomainID() == first || !blk.IsActive() {
		t.Errorf("after reload id=%v active=%v", blk.DomainID(), blk.IsActive())
	}
	if lost.Valid() {
		t.Error("buffer held by the crashed domain survived its reclaim")
	}
	if _, ok := k.Tracker().PrivateState(first); ok {
		t.Error("crashed domain's private state not dropped")
	}

	out, err := blk.ReadBlock(ctx, 1, block(t, k, 0))
	if err != nil {
		t.Fatalf("read after reload: %v", err)
	}
	if out.Slice()[0] != 7 {
		t.Errorf("contents lost across reload: %d", out.Slice()[0])
	}
	if s := blk.Stats(); s.Crashes != 1 || s.Generation != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	for _, img := range []core.Image{ramblk.Image("ram", 8, 0), ramblk.Image("ram2", 8, 0), shadowblk.Image("shadow")} {
		if err := k.RegisterImage(img); err != nil {
			t.Fatal(err)
		}
	}
	blk, err := Create(ctx, k, "blk0", "ram", iface.NewBlockProxy)
	if err != nil {
		t.Fatal(err)
	}

	if err := k.Update(ctx, "blk0", "shadow"); !errors.Is(err, &rterrors.Error{Kind: rterrors.KindTypeMismatch}) {
		t.Errorf("update across interfaces: %v", err)
	}
	if err := k.UpdateDomain(ctx, "blk0", "ram2", iface.ShadowInterface); !errors.Is(err, &rterrors.Error{Kind: rterrors.KindTypeMismatch}) {
		t.Errorf("UpdateDomain with wrong interface: %v", err)
	}

	if err := k.UpdateDomain(ctx, "blk0", "ram2", iface.BlockInterface); err != nil {
		t.Fatalf("UpdateDomain failed: %v", err)
	}
	if got := blk.Loader().Image; got != "ram2" {
		t.Errorf("loader image = %q", got)
	}

	info := k.Info()
	if len(info.Images) != 3 || len(info.Domains) != 1 {
		t.Fatalf("info = %+v", info)
	}
	d := info.Domains[0]
	if d.Name != "blk0" || d.Image != "ram2" || d.Interface != iface.BlockInterface || !d.Active || d.Stats.Replaces != 2 {
		t.Errorf("domain info = %+v", d)
	}
}

func TestUpdate_Forward(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	if err := k.RegisterImage(ramblk.Image("ram", 1, 0)); err != nil {
		t.Fatal(err)
	}
	blk, err := Create(ctx, k, "blk0", "ram", iface.NewBlockProxy)
	if err != nil {
		t.Fatal(err)
	}
	old := blk.DomainID()

	kept, err := sheap.NewValue(k.Heap().Scope(old), uint64(42))
	if err != nil {
		t.Fatal(err)
	}
	dropped, err := sheap.NewValue(k.Heap().Scope(old), uint64(7))
	if err != nil {
		t.Fatal(err)
	}

	err = k.ReloadWith(ctx, "blk0", func(next dr.DomainID) resource.ForwardPolicy {
		return resource.ForwardAllocations(next, kept.Handle())
	})
	if err != nil {
		t.Fatal(err)
	}
	if !kept.Valid() || kept.Owner() != blk.DomainID() {
		t.Errorf("forwarded value valid=%v owner=%v", kept.Valid(), kept.Owner())
	}
	if dropped.Valid() {
		t.Error("unforwarded value survived")
	}
}

func TestShadowRecoversDevice(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	for _, img := range []core.Image{ramblk.Image("ram", 8, 3), shadowblk.Image("shadow")} {
		if err := k.RegisterImage(img); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Create(ctx, k, "blk0", "ram", iface.NewBlockProxy); err != nil {
		t.Fatal(err)
	}
	sh, err := CreateWithArg(ctx, k, "sblk0", "shadow", "blk0", iface.NewShadowProxy)
	if err != nil {
		t.Fatalf("create shadow: %v", err)
	}

	if _, err := sh.WriteBlock(ctx, 0, block(t, k, 9)); err != nil {
		t.Fatal(err)
	}
	for i := range 5 {
		out, err := sh.ReadBlock(ctx, 0, block(t, k, 0))
		if err != nil {
			t.Fatalf("read %d through shadow: %v", i, err)
		}
		if out.Owner() != dr.KernelDomain || out.Slice()[0] != 9 {
			t.Fatalf("read %d: owner=%v first=%d", i, out.Owner(), out.Slice()[0])
		}
	}

	impl, ok := sh.Current()
	if !ok {
		t.Fatal("shadow proxy empty")
	}
	if n := impl.(*shadowblk.Shadow).Reloads(); n == 0 {
		t.Error("shadow never reloaded the crashed device")
	}
}

func TestRegisterDomain_Loader(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	err := k.RegisterLoader("fake", func(ctx context.Context, name string, data []byte) (core.Image, error) {
		if len(data) == 0 {
			return core.Image{}, errors.New("empty image")
		}
		return ramblk.Image(name, uint64(data[0]), 0), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := k.RegisterDomain(ctx, "img", "fake", nil); !errors.Is(err, &rterrors.Error{Kind: rterrors.KindInstantiation}) {
		t.Errorf("empty image: %v", err)
	}
	if err := k.RegisterDomain(ctx, "img", "missing", []byte{1}); !errors.Is(err, rterrors.ErrNotFound) {
		t.Errorf("unknown kind: %v", err)
	}
	if err := k.RegisterDomain(ctx, "img", "fake", []byte{4, 0, 0}); err != nil {
		t.Fatalf("RegisterDomain failed: %v", err)
	}

	h, err := k.CreateDomain(ctx, "blk0", "img", nil)
	if err != nil {
		t.Fatalf("CreateDomain failed: %v", err)
	}
	blk, ok := h.(*iface.BlockProxy)
	if !ok {
		t.Fatalf("handle is %T", h)
	}
	if c, _ := blk.Capacity(ctx); c != 4*iface.BlockSize {
		t.Errorf("capacity = %d", c)
	}
	if info := k.Info(); info.Images[0].Kind != "fake" || info.Images[0].Size != 3 {
		t.Errorf("image info = %+v", info.Images[0])
	}
}

func TestCoreFunctions(t *testing.T) {
	ctx := context.Background()
	k, console := newKernel(t)

	r, err := k.AllocPages(ctx, 5, 3)
	if err != nil || r.Count != 3 {
		t.Fatalf("AllocPages = %+v, %v", r, err)
	}
	if got := k.Tracker().Pages(5); len(got) != 1 {
		t.Errorf("tracked ranges = %v", got)
	}
	if err := k.FreePages(ctx, 5, r.Start); err != nil {
		t.Errorf("FreePages failed: %v", err)
	}
	if err := k.FreePages(ctx, 5, r.Start); !errors.Is(err, rterrors.ErrNotFound) {
		t.Errorf("double FreePages: %v", err)
	}

	k.WriteConsole(proxy.WithCaller(ctx, 5), "hello from domain\n")
	if !strings.Contains(console.String(), "hello from domain") {
		t.Errorf("console = %q", console.String())
	}

	trace := k.Backtrace(ctx, 5)
	if !strings.HasPrefix(trace, "backtrace for domain-5") {
		t.Errorf("backtrace = %q", trace)
	}

	if _, err := k.TaskOp(ctx, core.TaskOperation{Op: core.TaskYield}); err != nil {
		t.Errorf("yield: %v", err)
	}
	if _, err := k.TaskOp(ctx, core.TaskOperation{Op: core.TaskWait}); !errors.Is(err, rterrors.ErrUnsupported) {
		t.Errorf("wait: %v", err)
	}
}

type fixedTasks struct{ current uint64 }

func (f fixedTasks) TaskOp(ctx context.Context, op core.TaskOperation) (core.OperationResult, error) {
	return core.OperationResult{Current: f.current, HasCurrent: true}, nil
}

func TestTaskHandler(t *testing.T) {
	k, err := New(Options{Frames: 64, Tasks: fixedTasks{current: 3}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := k.TaskOp(context.Background(), core.TaskOperation{Op: core.TaskCurrent})
	if err != nil || !res.HasCurrent || res.Current != 3 {
		t.Errorf("TaskOp = %+v, %v", res, err)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	k, _ := newKernel(t)
	if err := k.RegisterImage(ramblk.Image("ram", 2, 0)); err != nil {
		t.Fatal(err)
	}
	blk, err := Create(ctx, k, "blk0", "ram", iface.NewBlockProxy)
	if err != nil {
		t.Fatal(err)
	}
	id := blk.DomainID()

	if err := k.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !blk.Empty() {
		t.Error("proxy not unloaded")
	}
	if _, err := blk.Capacity(ctx); !errors.Is(err, rterrors.ErrUnsupported) {
		t.Errorf("call after close: %v", err)
	}
	if _, ok := k.Tracker().PrivateState(id); ok {
		t.Error("state not reclaimed on close")
	}
	if _, err := Create(ctx, k, "blk1", "ram", iface.NewBlockProxy); !errors.Is(err, &rterrors.Error{Kind: rterrors.KindClosed}) {
		t.Errorf("create after close: %v", err)
	}
}
