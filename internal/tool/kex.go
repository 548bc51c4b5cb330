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
	kexLog      = "kex.log"
	kexOutDir   = "kex"
	kexTestsDir = "tests"
)

var kexDependencies = []job.Dependency{
	{Group: "junit", Artifact: "junit", Version: "4.13.2"},
	{Group: "org.vorpal.research", Artifact: "kex-rt", Version: "0.0.1"},
}

// Kex drives the kex concolic test generator through its Python launcher.
type Kex struct {
	base

	python  string
	mode    string
	options []string
}

func newKex(env Env, args []string) (Tool, error) {
	k := &Kex{base: newBase("Kex", env)}
	k.flags.StringVar(&k.python, "python", "python3", "python interpreter used to launch kex")
	k.flags.StringVar(&k.mode, "mode", "concolic", "kex run mode")
	k.flags.StringArrayVar(&k.options, "option", nil, "extra kex option as section:key:value (repeatable)")
	if err := parseArgs(k.flags, args, env.Options); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Kex) command(target string, budget time.Duration, outputDir string) process.Command {
	secs := strconv.FormatInt(int64(budget/time.Second), 10)
	args := []string{
		filepath.Join(k.home(), "kex", "kex.py"),
		"--classpath", strings.Join(k.jobClasspath(), string(os.PathListSeparator)),
		"--target", target,
		"--output", filepath.Join(outputDir, kexOutDir),
		"--mode", k.mode,
		"--option", k.mode + ":timeLimit:" + secs,
	}
	for _, opt := range k.options {
		args = append(args, "--option", opt)
	}
	return process.Command{Path: k.python, Args: args, LogName: kexLog}
}

// Run executes kex for target.
func (k *Kex) Run(ctx context.Context, target string, budget time.Duration, outputDir string) RunResult {
	if err := k.prepare(outputDir); err != nil {
		return k.finish(RunResult{Outcome: failedOutcome(err)})
	}
	return k.execute(ctx, k.command(target, budget, outputDir), budget)
}

// Report lists the generated tests. Kex writes one test per class, so
// nothing is split; helper sources are reported as resources.
func (k *Kex) Report() (*job.TestSuite, error) {
	if k.outputDir == "" {
		suite := job.EmptySuite("")
		suite.AddDependencies(kexDependencies...)
		return suite, nil
	}

	testDir := filepath.Join(k.outputDir, kexOutDir, kexTestsDir)
	tree, err := decompose.Collect(testDir, ".java", decompose.DefaultMarker)
	if err != nil {
		return nil, fmt.Errorf("collect kex output: %w", err)
	}

	suite := job.EmptySuite(testDir)
	suite.TestNames = tree.Names()
	suite.Resources = tree.Resources
	suite.AddDependencies(kexDependencies...)
	return suite, nil
}
