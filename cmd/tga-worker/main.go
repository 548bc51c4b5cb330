// Package main provides the tga-worker CLI entry point.
//
// tga-worker connects to a test-generation coordinator, runs the selected
// test-generation tool for every job it receives, and reports the
// generated suites back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/tga-worker/internal/config"
	"github.com/randomizedcoder/tga-worker/internal/logging"
	"github.com/randomizedcoder/tga-worker/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/tga-worker
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("tga-worker %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Printf("tga-worker %s\n", version)
		return 0
	}

	// The dashboard needs a terminal; fall back to plain logs otherwise.
	if cfg.TUIEnabled && !logging.IsTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal, disabling -tui")
		cfg.TUIEnabled = false
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	orch, err := orchestrator.New(cfg, version, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger.Info("starting",
		"version", version,
		"worker_id", orch.WorkerID(),
		"tool", orch.Tool().Name(),
		"coordinator", cfg.CoordinatorAddr(),
		"transport", cfg.Transport,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg, orch)
	}

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("worker_failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, orch *orchestrator.Orchestrator) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                          tga-worker                               ║")
	fmt.Println("║        Test Generation Worker for External Generation Tools       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Tool:        %s\n", orch.Tool().Name())
	if cfg.ToolArgs != "" {
		fmt.Printf("  Tool args:   %s\n", cfg.ToolArgs)
	}
	fmt.Printf("  Coordinator: %s (%s)\n", cfg.CoordinatorAddr(), cfg.Transport)
	fmt.Printf("  Worker ID:   %s\n", orch.WorkerID())
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
