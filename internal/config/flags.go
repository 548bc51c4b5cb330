package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/randomizedcoder/tga-worker/internal/tool"
)

// ParseFlags parses the process command line and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses args into a Config populated from DefaultConfig.
// Usage and parse errors are written to output.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("tga-worker", flag.ContinueOnError)
	fs.SetOutput(output)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(output, `tga-worker - test generation worker for a coordinating server

Usage:
  tga-worker -ip <host> -port <port> -tool <name> [-toolArgs "<args>"] [flags]

Coordinator:
`)
		printFlagCategory(fs, output, []string{"ip", "port", "transport", "ws-path", "retry-delay", "worker-id"})

		fmt.Fprintf(output, "\nTool:\n")
		printFlagCategory(fs, output, []string{"tool", "toolArgs", "tool-home", "java", "tool-config"})

		fmt.Fprintf(output, "\nProcess Supervision:\n")
		printFlagCategory(fs, output, []string{"grace-attempts", "grace-interval", "deadline-margin"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "metrics-snapshot", "v", "log-format", "tui"})

		fmt.Fprintf(output, "\nDiagnostics:\n")
		printFlagCategory(fs, output, []string{"skip-preflight", "version"})

		fmt.Fprintf(output, `
Supported tools: %s

Examples:
  # EvoSuite worker on a local coordinator
  tga-worker -ip 127.0.0.1 -port 9000 -tool EvoSuite

  # EvoSuite with LLM-generated seed tests and an extra option
  tga-worker -ip 10.0.0.5 -port 9000 -tool EvoSuite \
    -toolArgs "--llmTestLocation /data/llm --llmTestName ChatGPT --cliArg -Dminimize=false"

`, strings.Join(tool.Names(), ", "))
	}

	// Coordinator
	fs.StringVar(&cfg.Address, "ip", cfg.Address, "Coordinator host or IP address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Coordinator port")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, `Coordinator transport: "tcp" or "websocket"`)
	fs.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "WebSocket endpoint path")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "Fixed delay between connection attempts")
	fs.StringVar(&cfg.WorkerID, "worker-id", cfg.WorkerID, "Worker identifier announced to the coordinator (default: random UUID)")

	// Tool
	fs.StringVar(&cfg.Tool, "tool", cfg.Tool, "Test generation tool")
	fs.StringVar(&cfg.ToolArgs, "toolArgs", cfg.ToolArgs, "Tool arguments, split on whitespace")
	fs.StringVar(&cfg.ToolHome, "tool-home", cfg.ToolHome, "Tool installation directory (default: $"+tool.HomeEnv+")")
	fs.StringVar(&cfg.JavaPath, "java", cfg.JavaPath, "Java binary (default: $JAVA_HOME/bin/java, then PATH)")
	fs.StringVar(&cfg.ToolConfig, "tool-config", cfg.ToolConfig, "YAML file with tool option defaults")

	// Process supervision
	fs.IntVar(&cfg.GraceAttempts, "grace-attempts", cfg.GraceAttempts, "Exit checks after SIGTERM before SIGKILL")
	fs.DurationVar(&cfg.GraceInterval, "grace-interval", cfg.GraceInterval, "Delay between exit checks after SIGTERM")
	fs.DurationVar(&cfg.DeadlineMargin, "deadline-margin", cfg.DeadlineMargin, "Hard deadline past the job budget (negative disables)")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" disables)`)
	fs.StringVar(&cfg.MetricsSnapshot, "metrics-snapshot", cfg.MetricsSnapshot, "Write final metrics to this file on exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json", "text" or "auto"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Diagnostics
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
