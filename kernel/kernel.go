package kernel

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/iface"
	"github.com/wippyai/domain-runtime/pages"
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/resource"
	"github.com/wippyai/domain-runtime/sheap"
	"github.com/wippyai/domain-runtime/storage"
)

// DefaultFrames is the number of page frames managed when Options.Frames is 0.
const DefaultFrames = 16384

// Options configures a Kernel.
type Options struct {
	// Console receives WriteConsole output. Defaults to os.Stdout.
	Console io.Writer

	// Tasks serves task operations. The default handler only yields.
	Tasks core.TaskHandler

	ProxyObservers   []proxy.Observer
	TrackerObservers []resource.Observer

	// Frames is the number of page frames available to domains and the
	// shared heap.
	Frames uint64

	// HeapLimit caps the shared heap's bytes in use. Zero means no cap.
	HeapLimit uint64

	// HeapChunk is the smallest number of pages the shared heap reserves
	// at a time.
	HeapChunk uint64

	// Counters is the number of call counter stripes per proxy; 0 uses the
	// physical core count.
	Counters int

	// Spin is the busy-wait budget of a replace before it yields.
	Spin int
}

type slot struct {
	handle  core.Handle
	created time.Time
	image   string
	iface   string
}

// Kernel manages domain images and instances.
type Kernel struct {
	console   io.Writer
	tasks     core.TaskHandler
	pages     *pages.Allocator
	heap      *sheap.Heap
	tracker   *resource.Tracker
	store     *storage.Store
	images    map[string]core.Image
	loaders   map[string]core.Loader
	ifaces    map[string]core.ProxyFactory
	domains   map[string]*slot
	proxyOpts proxy.Options
	nextID    atomic.Uint64
	mu        sync.RWMutex
	consoleMu sync.Mutex
	closed    bool
}

// New creates a kernel with the interfaces of package iface registered.
func New(opts Options) (*Kernel, error) {
	frames := opts.Frames
	if frames == 0 {
		frames = DefaultFrames
	}

	k := &Kernel{
		console: opts.Console,
		tasks:   opts.Tasks,
		pages:   pages.New(0, frames),
		images:  make(map[string]core.Image),
		loaders: make(map[string]core.Loader),
		ifaces:  make(map[string]core.ProxyFactory),
		domains: make(map[string]*slot),
	}
	if k.console == nil {
		k.console = os.Stdout
	}
	if k.tasks == nil {
		k.tasks = yieldTasks{}
	}

	k.heap = sheap.New(sheap.Options{
		Pages:    k.pages,
		Limit:    opts.HeapLimit,
		MinChunk: opts.HeapChunk,
		OnGrow: func(r dr.PageRange) {
			k.tracker.RegisterPages(dr.KernelDomain, r)
		},
	})
	k.tracker = resource.NewTracker(k.pages, k.heap)
	for _, o := range opts.TrackerObservers {
		k.tracker.Subscribe(o)
	}
	k.store = storage.New(k.heap)

	k.proxyOpts = proxy.Options{
		Tracker:   k.tracker,
		Observers: opts.ProxyObservers,
		Counters:  opts.Counters,
		Spin:      opts.Spin,
	}

	for name, f := range iface.Factories() {
		if err := k.RegisterInterface(name, f); err != nil {
			return nil, err
		}
	}

	Logger().Info("kernel started",
		zap.Uint64("frames", frames),
		zap.Uint64("heap_limit", opts.HeapLimit),
		zap.Uint64("heap_chunk", opts.HeapChunk))
	return k, nil
}

// Heap returns the shared heap.
func (k *Kernel) Heap() *sheap.Heap {
	return k.heap
}

// Tracker returns the resource tracker.
func (k *Kernel) Tracker() *resource.Tracker {
	return k.tracker
}

// Storage returns the storage side-channel.
func (k *Kernel) Storage() *storage.Store {
	return k.store
}

// Pages returns the frame allocator.
func (k *Kernel) Pages() *pages.Allocator {
	return k.pages
}

// Scope returns a heap scope owned by the kernel domain.
func (k *Kernel) Scope() sheap.Scope {
	return k.heap.Scope(dr.KernelDomain)
}

// Close unloads every domain. Further creates fail.
func (k *Kernel) Close(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	slots := make([]*slot, 0, len(k.domains))
	for _, s := range k.domains {
		slots = append(slots, s)
	}
	k.mu.Unlock()

	var first error
	for _, s := range slots {
		if err := s.handle.Replaceable().Unload(ctx); err != nil && first == nil {
			first = err
		}
	}
	Logger().Info("kernel stopped", zap.Int("domains", len(slots)))
	return first
}

func (k *Kernel) checkOpen() error {
	if k.closed {
		return errors.Closed(errors.PhaseKernel, "kernel")
	}
	return nil
}
