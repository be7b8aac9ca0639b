// Package core defines the services the kernel offers to domains and the
// entry point domain images expose.
//
// A domain reaches the kernel only through Functions. Every call is
// synchronous and returns a typed result.
package core

import (
	"context"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/sheap"
	"github.com/wippyai/domain-runtime/storage"
)

// Functions is the core-function table.
type Functions interface {
	AllocPages(ctx context.Context, id dr.DomainID, n uint64) (dr.PageRange, error)
	FreePages(ctx context.Context, id dr.DomainID, start uint64) error
	RegisterPrivateState(ctx context.Context, id dr.DomainID, state any)

	WriteConsole(ctx context.Context, s string)
	Backtrace(ctx context.Context, id dr.DomainID) string

	// GetDomain returns the proxy of a running domain instance.
	GetDomain(ctx context.Context, name string) (Handle, error)
	// CreateDomain starts a new instance of a registered image.
	CreateDomain(ctx context.Context, name, image string, arg any) (Handle, error)
	// RegisterDomain registers an image of the given kind from its bytes.
	RegisterDomain(ctx context.Context, ident, kind string, data []byte) error
	// UpdateDomain replaces a running instance with a different image
	// implementing iface.
	UpdateDomain(ctx context.Context, name, image, iface string) error
	// ReloadDomain replaces a running instance with a fresh one from the
	// same image.
	ReloadDomain(ctx context.Context, name string) error

	TaskOp(ctx context.Context, op TaskOperation) (OperationResult, error)
}

// TaskHandler carries out task operations for the kernel.
type TaskHandler interface {
	TaskOp(ctx context.Context, op TaskOperation) (OperationResult, error)
}

// Handle is implemented by every per-interface proxy.
type Handle interface {
	Replaceable() proxy.Replaceable
}

// ProxyFactory creates the proxy for one interface.
type ProxyFactory func(name string, opts proxy.Options) Handle

// Env is passed to a domain image's entry point.
type Env struct {
	Core    Functions
	Storage *storage.Store
	Heap    sheap.Scope
	Name    string
	ID      dr.DomainID
}

// Entry creates a domain from an image. The returned domain is initialized
// by its proxy before it serves calls.
type Entry func(ctx context.Context, env Env) (proxy.Domain, error)
