// Package domainruntime is the isolation substrate of a domain-structured kernel.
//
// Kernel subsystems live in independently loadable domains. Callers hold a
// proxy per interface and call it like an ordinary object while the domain
// behind it may be replaced, reloaded after a crash, or torn down.
//
// # Architecture Overview
//
//	domainruntime/       Root package with DomainID and the PageAllocator interface
//	├── sheap/           Shared heap and ownership-transferable Value/Array handles
//	├── resource/        Per-domain page and private-state registry, bulk reclaim
//	├── continuation/    Continuation stack turning domain panics into errors
//	├── proxy/           Dispatch fast/slow paths and the replace protocol
//	├── storage/         Key/value side-channel surviving hot swap
//	├── pages/           Frame allocator backing page grants
//	├── core/            Core-function table and domain entry ABI
//	├── kernel/          Domain manager: images, creation, update, reload
//	├── iface/           Interface definitions and their proxies
//	├── domains/         Go-native domain images
//	├── wasmdomain/      WebAssembly domain images run by wazero
//	├── config/          TOML boot configuration
//	├── metrics/         Prometheus collectors
//	└── errors/          Structured error types
//
// # Quick Start
//
//	k, err := kernel.New(kernel.Options{Frames: 4096})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	k.RegisterImage(ramblk.Image("ramblk", 64, 0))
//
//	blk, err := kernel.Create(ctx, k, "blk0", "ramblk", iface.NewBlockProxy)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, err := blk.Capacity(ctx)
//
// # Calling Convention
//
// Memory crossing a domain boundary travels in sheap handles. Arguments are
// moved to the callee before the call and results moved back after it, so a
// handle has exactly one owning domain at a time. Nothing enforces that a
// caller stops touching a handle it passed; that exclusivity is a convention.
//
// # Crash Containment
//
// Methods marked recoverable run under a continuation. A panic inside the
// domain becomes an ErrDomainCrashed return and the domain is marked inactive
// until the proxy is reloaded. Panics on goroutines the domain starts itself
// are not contained.
//
// # Memory Model
//
// The shared heap only grows. Pages reserved for it stay with the kernel
// domain; freed allocations are reused within the heap.
package domainruntime
