package wasmdomain

import (
	"context"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/iface"
	"github.com/wippyai/domain-runtime/sheap"
)

// Trap is the panic value raised when a wasm call fails.
type Trap struct {
	Err  error
	Func string
}

func (t *Trap) Error() string {
	return "wasm trap in " + t.Func + ": " + t.Err.Error()
}

func (t *Trap) Unwrap() error {
	return t.Err
}

type domainKey struct{}

func withDomain(ctx context.Context, d *Domain) context.Context {
	return context.WithValue(ctx, domainKey{}, d)
}

func fromContext(ctx context.Context) *Domain {
	d, ok := ctx.Value(domainKey{}).(*Domain)
	if !ok {
		panic("kernel host function called outside a wasm domain")
	}
	return d
}

// Domain is one instantiated wasm image.
type Domain struct {
	engine   *Engine
	compiled wazero.CompiledModule
	mod      api.Module
	env      core.Env
	mu       sync.Mutex
}

var _ iface.Invoker = (*Domain)(nil)

func newDomain(e *Engine, compiled wazero.CompiledModule, env core.Env) *Domain {
	return &Domain{engine: e, compiled: compiled, env: env}
}

// Init instantiates the module, running its start function. arg is ignored.
func (d *Domain) Init(ctx context.Context, arg any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mod != nil {
		return nil
	}

	// anonymous so instances of one image can coexist
	cfg := wazero.NewModuleConfig().WithName("")
	mod, err := d.engine.runtime.InstantiateModule(withDomain(ctx, d), d.compiled, cfg)
	if err != nil {
		return errors.Instantiation(d.env.Name, err)
	}
	d.mod = mod
	d.env.Core.RegisterPrivateState(ctx, d.env.ID, d)

	Logger().Debug("wasm domain instantiated",
		zap.String("name", d.env.Name),
		zap.Stringer("domain", d.env.ID))
	return nil
}

// Drop closes the instance when the domain is reclaimed.
func (d *Domain) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mod == nil {
		return
	}
	if err := d.mod.Close(context.Background()); err != nil {
		Logger().Warn("close wasm instance", zap.Stringer("domain", d.env.ID), zap.Error(err))
	}
	d.mod = nil
}

// Invoke calls the exported function fn and releases args. Calls into one
// instance are serialized.
func (d *Domain) Invoke(ctx context.Context, fn string, args *sheap.Array[uint64]) (*sheap.Array[uint64], error) {
	// args were moved to this domain and nothing else frees them
	var params []uint64
	if args.Valid() {
		params = slices.Clone(args.Slice())
		if err := args.Drop(); err != nil {
			Logger().Debug("keep borrowed invoke arguments", zap.Stringer("domain", d.env.ID), zap.Error(err))
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mod == nil {
		return nil, errors.NotInitialized(errors.PhaseDispatch, "wasm domain "+d.env.Name)
	}

	f := d.mod.ExportedFunction(fn)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseDispatch, "export", fn)
	}
	if want := len(f.Definition().ParamTypes()); want != len(params) {
		return nil, errors.InvalidArgument(errors.PhaseDispatch, "%s takes %d arguments, got %d", fn, want, len(params))
	}

	res, err := f.Call(withDomain(ctx, d), params...)
	if err != nil {
		panic(&Trap{Func: fn, Err: err})
	}
	return sheap.ArrayOf(d.env.Heap, res)
}

// Exports lists the exported function names in order.
func (d *Domain) Exports(ctx context.Context) ([]string, error) {
	defs := d.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
