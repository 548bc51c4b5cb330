// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/tga-worker/internal/process"
	"github.com/randomizedcoder/tga-worker/internal/tool"
)

const (
	// Each job holds a pipe pair, a run log, the coordinator socket and
	// whatever the tool's JVM opens.
	requiredFileDescriptors = 1024

	// Tool JVMs are thread heavy and threads count against RLIMIT_NPROC.
	requiredProcesses = 512
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what the checks look for.
type Options struct {
	Tool     string
	ToolHome string
	JavaPath string
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks. Resource limits only ever warn;
// a missing Java runtime or tool home fails when the tool needs it.
func RunAll(ctx context.Context, opts Options) *Result {
	req, err := tool.RequirementsFor(opts.Tool)
	if err != nil {
		return &Result{
			Checks: []Check{{Name: "tool", Passed: false, Message: err.Error()}},
			Passed: false,
		}
	}

	result := &Result{Passed: true}
	for _, check := range []Check{
		checkFileDescriptors(),
		checkProcessLimit(),
		checkJava(ctx, opts.JavaPath, req.Java),
		checkToolHome(opts.ToolHome, req.Home),
	} {
		result.Checks = append(result.Checks, check)
		if !check.Passed {
			result.Passed = false
		}
	}
	return result
}

// checkFileDescriptors compares the soft RLIMIT_NOFILE to what a worker
// needs.
func checkFileDescriptors() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}
	return limitCheck("file_descriptors", limit.Cur, requiredFileDescriptors)
}

// checkProcessLimit compares the soft RLIMIT_NPROC to what a worker needs.
func checkProcessLimit() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NPROC, &limit); err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}
	return limitCheck("process_limit", limit.Cur, requiredProcesses)
}

func limitCheck(name string, current uint64, required int) Check {
	actual := int(min(current, uint64(1<<31-1)))
	return Check{
		Name:     name,
		Required: required,
		Actual:   actual,
		Passed:   true,
		Warning:  actual < required,
	}
}

// checkJava verifies a Java runtime is available and reports its version.
func checkJava(ctx context.Context, explicit string, required bool) Check {
	path, err := process.FindJava(explicit)
	if err != nil {
		return Check{
			Name:    "java",
			Passed:  !required,
			Warning: !required,
			Message: fmt.Sprintf("not found: %v", err),
		}
	}

	version, err := process.JavaVersion(ctx, path)
	if err != nil {
		return Check{
			Name:    "java",
			Passed:  !required,
			Warning: !required,
			Message: fmt.Sprintf("found at %s but not runnable: %v", path, err),
		}
	}

	return Check{
		Name:    "java",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, version),
	}
}

// checkToolHome verifies the tool installation directory exists.
func checkToolHome(home string, required bool) Check {
	if home == "" {
		return Check{
			Name:    "tool_home",
			Passed:  !required,
			Warning: !required,
			Message: fmt.Sprintf("not set (use -tool-home or $%s)", tool.HomeEnv),
		}
	}

	info, err := os.Stat(home)
	if err != nil || !info.IsDir() {
		msg := fmt.Sprintf("%s is not a directory", home)
		if err != nil {
			msg = fmt.Sprintf("%s: %v", home, err)
		}
		return Check{
			Name:    "tool_home",
			Passed:  !required,
			Warning: !required,
			Message: msg,
		}
	}

	return Check{
		Name:    "tool_home",
		Passed:  true,
		Message: home,
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "java":
		return "install a JDK and set JAVA_HOME, or pass -java"
	case "tool_home":
		return "export " + tool.HomeEnv + "=<tool installation directory>"
	case "tool":
		return "pick one of the supported tools (see -h)"
	default:
		return "see documentation"
	}
}
