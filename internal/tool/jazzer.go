package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/randomizedcoder/tga-worker/internal/decompose"
	"github.com/randomizedcoder/tga-worker/internal/job"
	"github.com/randomizedcoder/tga-worker/internal/process"
)

const (
	jazzerLog         = "jazzer.log"
	jazzerReproducers = "reproducers"
)

var jazzerDependencies = []job.Dependency{
	{Group: "junit", Artifact: "junit", Version: "4.13.2"},
	{Group: "com.code-intelligence", Artifact: "jazzer-api", Version: "0.22.1"},
}

// Jazzer drives the Jazzer fuzzer in autofuzz mode. Crash reproducers are
// the generated tests.
type Jazzer struct {
	base

	binary  string
	options []string
}

func newJazzer(env Env, args []string) (Tool, error) {
	j := &Jazzer{base: newBase("Jazzer", env)}
	j.flags.StringVar(&j.binary, "binary", "", "jazzer launcher (default <home>/jazzer/jazzer)")
	j.flags.StringArrayVar(&j.options, "option", nil, "argument passed verbatim to jazzer (repeatable)")
	if err := parseArgs(j.flags, args, env.Options); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Jazzer) launcher() string {
	if j.binary != "" {
		return j.binary
	}
	return filepath.Join(j.home(), "jazzer", "jazzer")
}

func (j *Jazzer) command(target string, budget time.Duration, outputDir string) process.Command {
	args := []string{
		"--cp=" + strings.Join(j.jobClasspath(), string(os.PathListSeparator)),
		"--autofuzz=" + target,
		"--reproducer_path=" + filepath.Join(outputDir, jazzerReproducers),
		"--keep_going=0",
		"-max_total_time=" + strconv.FormatInt(int64(budget/time.Second), 10),
	}
	args = append(args, j.options...)
	return process.Command{Path: j.launcher(), Args: args, LogName: jazzerLog}
}

// Run executes jazzer against target.
func (j *Jazzer) Run(ctx context.Context, target string, budget time.Duration, outputDir string) RunResult {
	if err := j.prepare(outputDir); err != nil {
		return j.finish(RunResult{Outcome: failedOutcome(err)})
	}
	if err := os.MkdirAll(filepath.Join(outputDir, jazzerReproducers), outputDirMode); err != nil {
		return j.finish(RunResult{Outcome: failedOutcome(err)})
	}
	return j.execute(ctx, j.command(target, budget, outputDir), budget)
}

// Report lists every crash reproducer as a test.
func (j *Jazzer) Report() (*job.TestSuite, error) {
	if j.outputDir == "" {
		suite := job.EmptySuite("")
		suite.AddDependencies(jazzerDependencies...)
		return suite, nil
	}

	dir := filepath.Join(j.outputDir, jazzerReproducers)
	tree, err := decompose.Collect(dir, ".java", "")
	if err != nil {
		return nil, fmt.Errorf("collect jazzer reproducers: %w", err)
	}

	suite := job.EmptySuite(dir)
	suite.TestNames = tree.Names()
	suite.AddDependencies(jazzerDependencies...)
	return suite, nil
}
