package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/randomizedcoder/tga-worker/internal/decompose"
	"github.com/randomizedcoder/tga-worker/internal/job"
	"github.com/randomizedcoder/tga-worker/internal/logging"
	"github.com/randomizedcoder/tga-worker/internal/supervisor"
)

const (
	manualLog      = "manual.log"
	manualTestsDir = "manual-tests"
)

var manualDependencies = []job.Dependency{
	{Group: "junit", Artifact: "junit", Version: "4.13.2"},
}

// Manual reports the hand-written tests a benchmark ships for its target.
// No external process is run.
type Manual struct {
	base

	testDir string
	suffix  string
}

func newManual(env Env, args []string) (Tool, error) {
	m := &Manual{base: newBase("Manual", env)}
	m.flags.StringVar(&m.testDir, "testDir", filepath.Join("src", "test", "java"), "test source root, relative to the benchmark root")
	m.flags.StringVar(&m.suffix, "suffix", "Test", "test class name suffix")
	if err := parseArgs(m.flags, args, env.Options); err != nil {
		return nil, err
	}
	return m, nil
}

// sources returns the hand-written test files for target: every
// <Simple><suffix>*.java in the target's package directory.
func (m *Manual) sources(target string) ([]string, error) {
	pkgPath, simple := splitTarget(target)
	dir := filepath.Join(m.root, m.testDir, pkgPath)
	return filepath.Glob(filepath.Join(dir, simple+m.suffix+"*.java"))
}

// Run copies the target's tests into the output directory.
func (m *Manual) Run(ctx context.Context, target string, budget time.Duration, outputDir string) RunResult {
	start := time.Now()
	if err := m.prepare(outputDir); err != nil {
		return m.finish(RunResult{Outcome: failedOutcome(err)})
	}

	res := RunResult{LogPath: filepath.Join(outputDir, manualLog)}
	runLog, err := logging.OpenRunLog(res.LogPath)
	if err != nil {
		res.Outcome = failedOutcome(err)
		return m.finish(res)
	}
	defer runLog.Close()

	res.Outcome = m.copyTests(ctx, target, outputDir, runLog)
	res.Outcome.Start = start
	res.Outcome.End = time.Now()
	runLog.Flush()
	res.LogTail = runLog.RecentLines(logTailLines)
	res.ErrorLines = runLog.ErrorLines()
	return m.finish(res)
}

func (m *Manual) copyTests(ctx context.Context, target, outputDir string, runLog *logging.RunLog) supervisor.Outcome {
	sources, err := m.sources(target)
	if err != nil {
		runLog.WriteLine("ERROR: " + err.Error())
		return failedOutcome(err)
	}
	if len(sources) == 0 {
		runLog.WriteLine("no manual tests found for " + target)
		return completedOutcome(time.Now())
	}

	pkgPath, _ := splitTarget(target)
	destDir := filepath.Join(outputDir, manualTestsDir, pkgPath)
	for _, src := range sources {
		if ctx.Err() != nil {
			return supervisor.Outcome{Kind: supervisor.Interrupted, Reason: supervisor.ReasonCancelled, ExitCode: -1}
		}
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			runLog.WriteLine("ERROR: " + err.Error())
			return failedOutcome(err)
		}
		runLog.WriteLine("copied " + src + " -> " + dst)
	}
	return completedOutcome(time.Now())
}

// Report lists the copied tests.
func (m *Manual) Report() (*job.TestSuite, error) {
	if m.outputDir == "" {
		suite := job.EmptySuite("")
		suite.AddDependencies(manualDependencies...)
		return suite, nil
	}

	dir := filepath.Join(m.outputDir, manualTestsDir)
	tree, err := decompose.Collect(dir, ".java", decompose.DefaultMarker)
	if err != nil {
		return nil, fmt.Errorf("collect manual tests: %w", err)
	}
	suite := job.EmptySuite(dir)
	suite.TestNames = tree.Names()
	suite.Resources = tree.Resources
	suite.AddDependencies(manualDependencies...)
	return suite, nil
}

// splitTarget turns "com.acme.Foo" into ("com/acme", "Foo").
func splitTarget(target string) (pkgPath, simple string) {
	i := strings.LastIndexByte(target, '.')
	if i < 0 {
		return "", target
	}
	return filepath.Join(strings.Split(target[:i], ".")...), target[i+1:]
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), outputDirMode); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
