// Command domainctl boots a domain runtime from a TOML configuration and
// either runs a scripted crash-and-recovery scenario against its domains
// or opens an interactive view of them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/wippyai/domain-runtime/config"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to TOML configuration (built-in demo config when empty)")
		logLevel    = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		logOutput   = flag.String("log", "stderr", "Log destination (stderr, stdout or a file path)")
		metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
		list        = flag.Bool("list", false, "Print images and domains after boot and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *logOutput, *interactive, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Parse(demoConfig)
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg config.Config, logOutput string, interactive, list bool) error {
	// the TUI owns the terminal; logs only go to an explicit file
	if interactive && (logOutput == "stderr" || logOutput == "stdout") {
		logOutput = ""
	}
	logger, err := newLogger(cfg.LogLevel, logOutput, term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	setLoggers(logger)

	var console consoleBuffer
	out := consoleWriter(&console, interactive)

	sys, err := boot(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer sys.Close(context.Background())

	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, sys)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	switch {
	case list:
		printInfo(os.Stdout, sys.kernel.Info())
		return nil
	case interactive:
		return runInteractive(ctx, sys, &console)
	default:
		return runDemo(ctx, sys, os.Stdout)
	}
}
