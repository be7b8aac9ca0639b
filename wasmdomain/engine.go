// Package wasmdomain runs WebAssembly modules as domains.
//
// Every image is compiled once by wazero and instantiated afresh for each
// domain created from it, so a reload starts from clean linear memory. An
// instance is served through the Invoker interface: arguments and results
// are flat uint64 words in shared-heap arrays. A trap inside the module is
// raised as a panic, which the proxy contains like any other domain crash.
//
// Modules may import the host module "kernel":
//
//	domain_id() -> i64
//	console_write(ptr i32, len i32)
//	alloc_pages(n i64) -> i64   // first page, or -1
package wasmdomain

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/iface"
	"github.com/wippyai/domain-runtime/proxy"
)

// Kind is the image kind handled by the loader.
const Kind = "wasm"

// HostModule is the import module name of the kernel functions.
const HostModule = "kernel"

// Config holds engine configuration.
type Config struct {
	// MemoryLimitPages caps each instance's linear memory in 64KiB pages.
	// 0 keeps the wazero default.
	MemoryLimitPages uint32
}

// Engine compiles and instantiates wasm domain images.
type Engine struct {
	runtime wazero.Runtime
}

// NewEngine creates an engine and instantiates the kernel host module.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	e := &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}
	if _, err := instantiateHost(ctx, e.runtime); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	return e, nil
}

// Close releases every compiled image and instance.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Compile builds an image from wasm bytes. Instances are served through
// the invoker interface.
func (e *Engine) Compile(ctx context.Context, name string, wasm []byte) (core.Image, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return core.Image{}, errors.New(errors.PhaseLoad, errors.KindInstantiation).
			Domain(name).
			Detail("compile wasm image").
			Cause(err).
			Build()
	}
	Logger().Debug("wasm image compiled",
		zap.String("image", name),
		zap.Int("bytes", len(wasm)),
		zap.Int("exports", len(compiled.ExportedFunctions())))

	return core.Image{
		Name:      name,
		Interface: iface.InvokerInterface,
		Kind:      Kind,
		Size:      len(wasm),
		Entry: func(ctx context.Context, env core.Env) (proxy.Domain, error) {
			return newDomain(e, compiled, env), nil
		},
	}, nil
}

// Loader returns a core.Loader compiling images with e.
func (e *Engine) Loader() core.Loader {
	return e.Compile
}

func instantiateHost(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(HostModule)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = uint64(fromContext(ctx).env.ID)
		}), nil, []api.ValueType{api.ValueTypeI64}).
		Export("domain_id")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			ptr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
			mem := mod.Memory()
			if mem == nil {
				panic("console_write: module has no memory")
			}
			buf, ok := mem.Read(ptr, n)
			if !ok {
				panic(fmt.Sprintf("console_write: range %d+%d out of bounds", ptr, n))
			}
			d := fromContext(ctx)
			d.env.Core.WriteConsole(ctx, string(buf))
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("console_write")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
			d := fromContext(ctx)
			r, err := d.env.Core.AllocPages(ctx, d.env.ID, stack[0])
			if err != nil {
				Logger().Debug("alloc_pages refused", zap.Stringer("domain", d.env.ID), zap.Error(err))
				stack[0] = api.EncodeI64(-1)
				return
			}
			stack[0] = r.Start
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("alloc_pages")

	return builder.Instantiate(ctx)
}
