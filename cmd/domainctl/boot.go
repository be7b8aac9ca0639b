package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/domain-runtime/config"
	"github.com/wippyai/domain-runtime/continuation"
	"github.com/wippyai/domain-runtime/domains/ramblk"
	"github.com/wippyai/domain-runtime/domains/shadowblk"
	"github.com/wippyai/domain-runtime/kernel"
	"github.com/wippyai/domain-runtime/metrics"
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/resource"
	"github.com/wippyai/domain-runtime/sheap"
	"github.com/wippyai/domain-runtime/wasmdomain"
)

const demoConfig = `
log_level = "warn"
page_frames = 4096
heap_chunk_pages = 4

[[domain]]
name = "blk0"
kind = "ramblk"
blocks = 64
crash_after = 4

[[domain]]
name = "sblk0"
kind = "shadowblk"
target = "blk0"
`

// shadowImage is the image name shared by every shadow block domain.
const shadowImage = "shadowblk"

func newLogger(level, output string, dev bool) (*zap.Logger, error) {
	if output == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func setLoggers(l *zap.Logger) {
	sheap.SetLogger(l.Named("sheap"))
	resource.SetLogger(l.Named("resource"))
	continuation.SetLogger(l.Named("continuation"))
	proxy.SetLogger(l.Named("proxy"))
	kernel.SetLogger(l.Named("kernel"))
	wasmdomain.SetLogger(l.Named("wasm"))
	ramblk.SetLogger(l.Named("ramblk"))
	shadowblk.SetLogger(l.Named("shadowblk"))
}

// consoleBuffer keeps the most recent console lines for the TUI.
type consoleBuffer struct {
	lines []string
	mu    sync.Mutex
}

const consoleLines = 8

func (c *consoleBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		c.lines = append(c.lines, line)
	}
	if n := len(c.lines); n > consoleLines {
		c.lines = c.lines[n-consoleLines:]
	}
	return len(p), nil
}

func (c *consoleBuffer) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func consoleWriter(buf *consoleBuffer, interactive bool) io.Writer {
	if interactive {
		return buf
	}
	return os.Stdout
}

// system is a booted kernel with the domains of one configuration.
type system struct {
	kernel *kernel.Kernel
	engine *wasmdomain.Engine
	cfg    config.Config
}

func boot(ctx context.Context, cfg config.Config, console io.Writer) (*system, error) {
	metrics.RegisterMetrics()

	k, err := kernel.New(kernel.Options{
		Console:          console,
		Frames:           cfg.PageFrames,
		HeapChunk:        cfg.HeapChunk,
		HeapLimit:        cfg.HeapLimit,
		Counters:         cfg.CPUs,
		Spin:             cfg.QuiesceSpin,
		ProxyObservers:   []proxy.Observer{metrics.Observer{}},
		TrackerObservers: []resource.Observer{metrics.ResourceObserver{}},
	})
	if err != nil {
		return nil, fmt.Errorf("start kernel: %w", err)
	}

	engine, err := wasmdomain.NewEngine(ctx, &wasmdomain.Config{MemoryLimitPages: cfg.WasmMemPages})
	if err != nil {
		_ = k.Close(ctx)
		return nil, err
	}
	sys := &system{kernel: k, engine: engine, cfg: cfg}

	if err := sys.start(ctx); err != nil {
		sys.Close(ctx)
		return nil, err
	}
	return sys, nil
}

func (s *system) start(ctx context.Context) error {
	k := s.kernel
	if err := k.RegisterLoader(wasmdomain.Kind, s.engine.Loader()); err != nil {
		return err
	}
	if err := k.RegisterImage(shadowblk.Image(shadowImage)); err != nil {
		return err
	}

	for _, d := range s.cfg.Domains {
		image, arg := imageName(d), any(nil)
		switch d.Kind {
		case config.KindRAMBlock:
			if err := k.RegisterImage(ramblk.Image(image, d.Blocks, d.CrashAfter)); err != nil {
				return err
			}
		case config.KindShadowBlock:
			arg = d.Target
		case config.KindWasm:
			data, err := os.ReadFile(d.Image)
			if err != nil {
				return fmt.Errorf("read %s image: %w", d.Name, err)
			}
			if err := k.RegisterDomain(ctx, image, wasmdomain.Kind, data); err != nil {
				return err
			}
		}

		if _, err := k.CreateDomain(ctx, d.Name, image, arg); err != nil {
			return fmt.Errorf("create domain %s: %w", d.Name, err)
		}
	}
	return nil
}

func imageName(d config.Domain) string {
	if d.Kind == config.KindShadowBlock {
		return shadowImage
	}
	return d.Kind + ":" + d.Name
}

func (s *system) Close(ctx context.Context) {
	if err := s.kernel.Close(ctx); err != nil {
		kernel.Logger().Warn("close kernel", zap.Error(err))
	}
	if err := s.engine.Close(ctx); err != nil {
		kernel.Logger().Warn("close wasm engine", zap.Error(err))
	}
}

func serveMetrics(addr string, sys *system) (*http.Server, error) {
	if err := prometheus.Register(metrics.NewHeapCollector(sys.kernel.Heap(), sys.kernel.Pages())); err != nil {
		return nil, fmt.Errorf("register heap collector: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			kernel.Logger().Error("metrics server stopped", zap.Error(err))
		}
	}()
	kernel.Logger().Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return srv, nil
}
