// Package tool adapts generic jobs to specific external test-generation
// tools: it builds their command lines, runs them under the supervisor and
// turns their on-disk output into a test suite.
package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/randomizedcoder/tga-worker/internal/job"
	"github.com/randomizedcoder/tga-worker/internal/process"
	"github.com/randomizedcoder/tga-worker/internal/supervisor"
)

// ErrUnsupportedTool is returned by New for a name no adapter is registered
// under.
var ErrUnsupportedTool = errors.New("unsupported tool")

// HomeEnv names the installation directory holding tool jars and binaries.
const HomeEnv = "TGA_PIPELINE_HOME"

// Tool is the capability set every adapter implements. A Tool processes one
// job at a time: Init, Run, then Report.
type Tool interface {
	// Name is the canonical tool name announced to the coordinator.
	Name() string

	// Init records the benchmark root and classpath. It does no I/O.
	Init(root string, classpath []string)

	// Run generates tests for target into outputDir. It never returns an
	// error: spawn failures and interruptions are described by the result.
	Run(ctx context.Context, target string, budget time.Duration, outputDir string) RunResult

	// Report turns the output of the last Run into a suite. It is safe to
	// call when the output directory is empty or missing.
	Report() (*job.TestSuite, error)

	// Config returns the effective tool options.
	Config() Options
}

// Runner executes one command. *supervisor.Supervisor implements it.
type Runner interface {
	Run(ctx context.Context, cmd process.Command, budget time.Duration, sink supervisor.LineSink) supervisor.Outcome
}

// RunResult describes one Run.
type RunResult struct {
	Command process.Command
	Outcome supervisor.Outcome

	// LogPath is the run log inside the output directory.
	LogPath string

	// LogTail holds the last lines of the run log.
	LogTail []string

	// ErrorLines counts log lines that look like errors.
	ErrorLines int64
}

// Env is what every adapter needs from the worker.
type Env struct {
	// Home is the tool installation directory ($TGA_PIPELINE_HOME).
	Home string

	// Java is an explicit Java binary; empty means discover it.
	Java string

	Runner Runner
	Logger *slog.Logger

	// Options are defaults for adapter flags, typically from the tool
	// config file. Flags given on the command line win.
	Options Options
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

// Factory builds an adapter from its argument list.
type Factory func(env Env, args []string) (Tool, error)

// Requirements lists what an adapter needs from the host.
type Requirements struct {
	Java bool // a Java runtime
	Home bool // the tool installation directory
}

var registry = map[string]struct {
	name     string
	factory  Factory
	requires Requirements
}{
	"evosuite": {"EvoSuite", newEvoSuite, Requirements{Java: true, Home: true}},
	"kex":      {"Kex", newKex, Requirements{Java: true, Home: true}},
	"jazzer":   {"Jazzer", newJazzer, Requirements{Java: true, Home: true}},
	"manual":   {"Manual", newManual, Requirements{}},
	"stub":     {"stub", newStub, Requirements{}},
}

// New returns the adapter registered under name (case-insensitive). The
// tool arguments are split on whitespace and parsed by the adapter.
func New(name, toolArgs string, env Env) (Tool, error) {
	entry, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedTool, name, strings.Join(Names(), ", "))
	}
	if env.Runner == nil {
		env.Runner = supervisor.New(supervisor.Config{Logger: env.Logger})
	}
	return entry.factory(env, strings.Fields(toolArgs))
}

// Names returns the canonical names of all registered tools, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, e := range registry {
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names
}

// RequirementsFor returns the host requirements of the named tool.
func RequirementsFor(name string) (Requirements, error) {
	entry, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Requirements{}, fmt.Errorf("%w: %q", ErrUnsupportedTool, name)
	}
	return entry.requires, nil
}

// Supported reports whether name selects a registered tool.
func Supported(name string) bool {
	_, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
