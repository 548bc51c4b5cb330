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
	evoSuiteVersion           = "master-1.2.1-SNAPSHOT-bugfix"
	evoSuiteDependencyVersion = "1.0.6"
	evoSuiteLog               = "evosuite.log"
	evoSuiteTestsDir          = "evosuite-tests"
	evoSuiteCriteria          = "LINE:BRANCH:EXCEPTION:WEAKMUTATION:OUTPUT:METHOD:METHODNOEXCEPTION:CBRANCH"

	// execSuffix marks coverage files whose names are the canonical names
	// of auxiliary tests.
	execSuffix = ".exec"
)

var evoSuiteDependencies = []job.Dependency{
	{Group: "junit", Artifact: "junit", Version: "4.13.2"},
	{Group: "org.evosuite", Artifact: "evosuite-master", Version: evoSuiteDependencyVersion},
	{Group: "org.evosuite", Artifact: "evosuite-standalone-runtime", Version: evoSuiteDependencyVersion},
}

// EvoSuite drives the EvoSuite jar. It can seed the search with auxiliary
// tests generated elsewhere (for example by an LLM) found by convention
// next to the output directory.
type EvoSuite struct {
	base

	auxLocation string
	auxName     string
	cliArgs     []string
}

func newEvoSuite(env Env, args []string) (Tool, error) {
	e := &EvoSuite{base: newBase("EvoSuite", env)}
	e.flags.StringVar(&e.auxLocation, "llmTestLocation", "", "directory holding auxiliary tests, one subdirectory per run")
	e.flags.StringVar(&e.auxName, "llmTestName", "", "name of the auxiliary test generator")
	e.flags.StringArrayVar(&e.cliArgs, "cliArg", nil, "argument passed verbatim to EvoSuite (repeatable)")
	if err := parseArgs(e.flags, args, env.Options); err != nil {
		return nil, err
	}
	return e, nil
}

// Jar returns the EvoSuite jar path.
func (e *EvoSuite) Jar() string {
	return filepath.Join(e.home(), "lib", "evosuite-"+evoSuiteVersion+".jar")
}

// auxiliaryDir returns <auxLocation>/<auxName>-<runId>/<benchmarkId> when
// auxiliary tests are configured and that directory exists. The run id is
// the last "-" separated field of the output directory's parent name; the
// benchmark id is the output directory's own name.
func (e *EvoSuite) auxiliaryDir(outputDir string) string {
	if e.auxLocation == "" {
		return ""
	}
	clean := filepath.Clean(outputDir)
	benchmark := filepath.Base(clean)
	parentFields := strings.Split(filepath.Base(filepath.Dir(clean)), "-")
	runID := parentFields[len(parentFields)-1]

	dir := filepath.Join(e.auxLocation, e.auxName+"-"+runID, benchmark)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		e.logger.Debug("auxiliary_tests_not_found", "path", dir)
		return ""
	}
	return dir
}

// canonicalTestNames lists the .exec files in dir, extension stripped,
// joined with ":".
func canonicalTestNames(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, entry := range entries {
		if name := entry.Name(); !entry.IsDir() && strings.HasSuffix(name, execSuffix) {
			names = append(names, strings.TrimSuffix(name, execSuffix))
		}
	}
	return strings.Join(names, ":")
}

// command builds the EvoSuite invocation for one job.
func (e *EvoSuite) command(java, target string, budget time.Duration, outputDir string) process.Command {
	classpath := e.jobClasspath()
	extra := append([]string(nil), e.cliArgs...)

	if aux := e.auxiliaryDir(outputDir); aux != "" {
		classpath = append(classpath, aux)
		extra = append(extra, "-Dselected_junit="+canonicalTestNames(aux))
	}

	args := []string{
		"-jar", e.Jar(),
		"-generateMOSuite",
		"-base_dir", outputDir,
		"-projectCP", strings.Join(classpath, string(os.PathListSeparator)),
		"-Dnew_statistics=false",
		"-Dsearch_budget=" + strconv.FormatInt(int64(budget/time.Second), 10),
		"-class", target,
		"-Dcatch_undeclared_exceptions=false",
		"-Dtest_naming_strategy=COVERAGE",
		"-Dalgorithm=DYNAMOSA",
		"-Dno_runtime_dependency=true",
		"-Dcriterion=" + evoSuiteCriteria,
	}
	args = append(args, extra...)

	return process.Command{Path: java, Args: args, LogName: evoSuiteLog}
}

// Run executes EvoSuite for target.
func (e *EvoSuite) Run(ctx context.Context, target string, budget time.Duration, outputDir string) RunResult {
	if err := e.prepare(outputDir); err != nil {
		return e.finish(RunResult{Outcome: failedOutcome(err)})
	}
	java, err := e.java()
	if err != nil {
		return e.finish(RunResult{Outcome: failedOutcome(err)})
	}
	return e.execute(ctx, e.command(java, target, budget, outputDir), budget)
}

// Report splits every generated test class into one class per test case.
func (e *EvoSuite) Report() (*job.TestSuite, error) {
	if e.outputDir == "" {
		suite := job.EmptySuite("")
		suite.AddDependencies(evoSuiteDependencies...)
		return suite, nil
	}

	testDir := filepath.Join(e.outputDir, evoSuiteTestsDir)
	tree, err := decompose.SplitTree(testDir, ".java", decompose.DefaultMarker)
	if err != nil {
		return nil, fmt.Errorf("decompose EvoSuite output: %w", err)
	}

	suite := job.EmptySuite(testDir)
	suite.TestNames = tree.Names()
	suite.Resources = tree.Resources
	suite.AddDependencies(evoSuiteDependencies...)
	return suite, nil
}
