package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	rterrors "github.com/wippyai/domain-runtime/errors"
)

const sample = `
log_level = "debug"
page_frames = 2048
heap_chunk_pages = 8
quiesce_spin = 50
metrics_addr = "127.0.0.1:9090"

[[domain]]
name = "blk0"
kind = "ramblk"
blocks = 64
crash_after = 10

[[domain]]
name = "sblk0"
kind = "shadowblk"
target = "blk0"

[[domain]]
name = "calc"
kind = "wasm"
interface = "invoker"
image = "calc.wasm"
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domainctl.toml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if cfg.PageFrames != 2048 || cfg.HeapChunk != 8 || cfg.QuiesceSpin != 50 {
		t.Fatalf("unexpected sizing: %+v", cfg)
	}
	if cfg.MetricsAddr != "127.0.0.1:9090" {
		t.Fatalf("unexpected metrics addr: %q", cfg.MetricsAddr)
	}
	if cfg.WasmMemPages != Default().WasmMemPages {
		t.Fatalf("default not kept for undefined key: %d", cfg.WasmMemPages)
	}
	if len(cfg.Domains) != 3 {
		t.Fatalf("unexpected domains: %+v", cfg.Domains)
	}
	if d := cfg.Domains[0]; d.Interface != "block" || d.Blocks != 64 || d.CrashAfter != 10 {
		t.Fatalf("unexpected blk0: %+v", d)
	}
	if d := cfg.Domains[1]; d.Interface != "shadow" || d.Target != "blk0" {
		t.Fatalf("unexpected sblk0: %+v", d)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatalf("parse empty config: %v", err)
	}
	want := Default()
	if cfg.LogLevel != want.LogLevel || cfg.PageFrames != want.PageFrames || cfg.QuiesceSpin != want.QuiesceSpin {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParse_ZeroOverridesDefault(t *testing.T) {
	cfg, err := Parse("quiesce_spin = 0")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QuiesceSpin != 0 {
		t.Fatalf("explicit zero ignored: %d", cfg.QuiesceSpin)
	}
}

func TestParse_EnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "WARN")
	cfg, err := Parse(`log_level = "debug"`)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("env override not applied: %q", cfg.LogLevel)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind rterrors.Kind
	}{
		{"bad level", `log_level = "loud"`, rterrors.KindInvalidArgument},
		{"zero frames", `page_frames = 0`, rterrors.KindInvalidArgument},
		{"unknown key", `page_frame = 10`, rterrors.KindInvalidArgument},
		{"unknown kind", "[[domain]]\nname = \"x\"\nkind = \"tape\"", rterrors.KindInvalidArgument},
		{"no blocks", "[[domain]]\nname = \"x\"\nkind = \"ramblk\"", rterrors.KindInvalidArgument},
		{"wrong interface", "[[domain]]\nname = \"x\"\nkind = \"ramblk\"\nblocks = 1\ninterface = \"invoker\"", rterrors.KindTypeMismatch},
		{"duplicate", "[[domain]]\nname = \"x\"\nkind = \"ramblk\"\nblocks = 1\n[[domain]]\nname = \"x\"\nkind = \"ramblk\"\nblocks = 1", rterrors.KindAlreadyExists},
		{"dangling shadow", "[[domain]]\nname = \"s\"\nkind = \"shadowblk\"\ntarget = \"blk0\"", rterrors.KindInvalidArgument},
		{"wasm without image", "[[domain]]\nname = \"w\"\nkind = \"wasm\"", rterrors.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if !errors.Is(err, &rterrors.Error{Kind: tt.kind}) {
				t.Errorf("error = %v, want %s", err, tt.kind)
			}
		})
	}
}
