// Package config loads the domainctl boot configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/domain-runtime/errors"
)

// EnvLogLevel overrides log_level when set.
const EnvLogLevel = "DOMAINCTL_LOG_LEVEL"

// Domain kinds understood by domainctl.
const (
	KindRAMBlock    = "ramblk"
	KindShadowBlock = "shadowblk"
	KindWasm        = "wasm"
)

// Domain describes one domain instance to create at boot.
type Domain struct {
	Name      string
	Kind      string
	Interface string

	// Image is the wasm file of a wasm domain.
	Image string

	// Target is the block device a shadow fronts.
	Target string

	Blocks     uint64
	CrashAfter int64
}

// Config is the boot configuration.
type Config struct {
	LogLevel     string
	MetricsAddr  string
	Domains      []Domain
	PageFrames   uint64
	HeapChunk    uint64
	HeapLimit    uint64
	WasmMemPages uint32
	CPUs         int
	QuiesceSpin  int
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		LogLevel:     "info",
		PageFrames:   16384,
		HeapChunk:    4,
		WasmMemPages: 256,
		QuiesceSpin:  1000,
	}
}

type fileDomain struct {
	Name       string `toml:"name"`
	Kind       string `toml:"kind"`
	Interface  string `toml:"interface"`
	Image      string `toml:"image"`
	Target     string `toml:"target"`
	Blocks     uint64 `toml:"blocks"`
	CrashAfter int64  `toml:"crash_after"`
}

type fileConfig struct {
	LogLevel     string       `toml:"log_level"`
	MetricsAddr  string       `toml:"metrics_addr"`
	CPUs         int          `toml:"cpus"`
	PageFrames   uint64       `toml:"page_frames"`
	HeapChunk    uint64       `toml:"heap_chunk_pages"`
	HeapLimit    uint64       `toml:"heap_limit"`
	WasmMemPages uint32       `toml:"wasm_memory_pages"`
	QuiesceSpin  int          `toml:"quiesce_spin"`
	Domains      []fileDomain `toml:"domain"`
}

// Load reads path, applies defaults for undefined keys and the environment
// override, and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return build(raw, meta)
}

// Parse is Load for configuration held in memory.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return build(raw, meta)
}

func build(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, errors.InvalidArgument(errors.PhaseConfig, "unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("cpus") {
		cfg.CPUs = raw.CPUs
	}
	if meta.IsDefined("page_frames") {
		cfg.PageFrames = raw.PageFrames
	}
	if meta.IsDefined("heap_chunk_pages") {
		cfg.HeapChunk = raw.HeapChunk
	}
	if meta.IsDefined("heap_limit") {
		cfg.HeapLimit = raw.HeapLimit
	}
	if meta.IsDefined("wasm_memory_pages") {
		cfg.WasmMemPages = raw.WasmMemPages
	}
	if meta.IsDefined("quiesce_spin") {
		cfg.QuiesceSpin = raw.QuiesceSpin
	}

	for _, d := range raw.Domains {
		cfg.Domains = append(cfg.Domains, Domain{
			Name:       strings.TrimSpace(d.Name),
			Kind:       strings.TrimSpace(d.Kind),
			Interface:  strings.TrimSpace(d.Interface),
			Image:      strings.TrimSpace(d.Image),
			Target:     strings.TrimSpace(d.Target),
			Blocks:     d.Blocks,
			CrashAfter: d.CrashAfter,
		})
	}

	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultInterface returns the interface a domain kind is served through.
func DefaultInterface(kind string) string {
	switch kind {
	case KindRAMBlock:
		return "block"
	case KindShadowBlock:
		return "shadow"
	case KindWasm:
		return "invoker"
	}
	return ""
}

// Validate checks value ranges and domain references.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.InvalidArgument(errors.PhaseConfig, "log_level %q must be debug, info, warn or error", c.LogLevel)
	}
	if c.PageFrames == 0 {
		return errors.InvalidArgument(errors.PhaseConfig, "page_frames must be positive")
	}
	if c.CPUs < 0 || c.QuiesceSpin < 0 {
		return errors.InvalidArgument(errors.PhaseConfig, "cpus and quiesce_spin must not be negative")
	}

	seen := make(map[string]int, len(c.Domains))
	for i := range c.Domains {
		d := &c.Domains[i]
		if d.Name == "" {
			return errors.InvalidArgument(errors.PhaseConfig, "domain %d has no name", i)
		}
		if _, dup := seen[d.Name]; dup {
			return errors.AlreadyExists(errors.PhaseConfig, "domain", d.Name)
		}
		seen[d.Name] = i

		want := DefaultInterface(d.Kind)
		if want == "" {
			return errors.InvalidArgument(errors.PhaseConfig, "domain %s: unknown kind %q", d.Name, d.Kind)
		}
		if d.Interface == "" {
			d.Interface = want
		} else if d.Interface != want {
			return errors.TypeMismatch(errors.PhaseConfig, want, d.Interface)
		}

		switch d.Kind {
		case KindRAMBlock:
			if d.Blocks == 0 {
				return errors.InvalidArgument(errors.PhaseConfig, "domain %s: blocks must be positive", d.Name)
			}
		case KindShadowBlock:
			j, ok := seen[d.Target]
			if !ok || c.Domains[j].Kind != KindRAMBlock {
				return errors.InvalidArgument(errors.PhaseConfig, "domain %s: target %q must be a ramblk domain declared earlier", d.Name, d.Target)
			}
		case KindWasm:
			if d.Image == "" {
				return errors.InvalidArgument(errors.PhaseConfig, "domain %s: image path required", d.Name)
			}
		}
	}
	return nil
}
