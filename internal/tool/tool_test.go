package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/tga-worker/internal/job"
	"github.com/randomizedcoder/tga-worker/internal/process"
	"github.com/randomizedcoder/tga-worker/internal/supervisor"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeRunner records commands and plays back a scripted run.
type fakeRunner struct {
	mu      sync.Mutex
	cmds    []process.Command
	lines   []string
	kind    supervisor.Kind
	onRun   func(cmd process.Command)
	budgets []time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, cmd process.Command, budget time.Duration, sink supervisor.LineSink) supervisor.Outcome {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.budgets = append(f.budgets, budget)
	f.mu.Unlock()

	for _, l := range f.lines {
		sink.WriteLine(l)
	}
	if f.onRun != nil {
		f.onRun(cmd)
	}
	now := time.Now()
	return supervisor.Outcome{Kind: f.kind, Start: now, End: now, Lines: int64(len(f.lines))}
}

func (f *fakeRunner) last() process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmds[len(f.cmds)-1]
}

func fakeJava(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "java")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func testEnv(t *testing.T, runner Runner) Env {
	return Env{Home: "/opt/tga", Java: fakeJava(t), Runner: runner}
}

func newTool(t *testing.T, name, args string, env Env) Tool {
	t.Helper()
	tl, err := New(name, args, env)
	require.NoError(t, err)
	return tl
}

// outputDir returns <tmp>/run-<run>/<bench>.
func outputDir(t *testing.T, run, bench string) string {
	return filepath.Join(t.TempDir(), "run-"+run, bench)
}

func writeSource(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func evoSuiteClass(name string, cases int) string {
	var b strings.Builder
	b.WriteString("package com.acme;\n\nimport org.junit.Test;\nimport static org.junit.Assert.*;\n\n")
	b.WriteString("public class " + name + " extends FooTest_scaffolding {\n\n")
	for i := 0; i < cases; i++ {
		b.WriteString("  @Test(timeout = 4000)\n  public void test0" + string(rune('0'+i)) + "()  throws Throwable  {\n      assertNotNull(new Foo());\n  }\n\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// =============================================================================
// Registry
// =============================================================================

func TestNew_Registry(t *testing.T) {
	tests := []struct {
		input string
		name  string
	}{
		{"EvoSuite", "EvoSuite"},
		{"evosuite", "EvoSuite"},
		{"kex", "Kex"},
		{"JAZZER", "Jazzer"},
		{"Manual", "Manual"},
		{"stub", "stub"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tl := newTool(t, tt.input, "", testEnv(t, &fakeRunner{}))
			assert.Equal(t, tt.name, tl.Name())
			assert.True(t, Supported(tt.input))
		})
	}
}

func TestNew_UnsupportedTool(t *testing.T) {
	for _, name := range []string{"TestSpark", "", "randoop"} {
		_, err := New(name, "", Env{})
		assert.ErrorIs(t, err, ErrUnsupportedTool, name)
		assert.False(t, Supported(name))
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"EvoSuite", "Jazzer", "Kex", "Manual", "stub"}, Names())
}

func TestRequirementsFor(t *testing.T) {
	tests := []struct {
		name string
		want Requirements
	}{
		{"EvoSuite", Requirements{Java: true, Home: true}},
		{"kex", Requirements{Java: true, Home: true}},
		{"JAZZER", Requirements{Java: true, Home: true}},
		{"Manual", Requirements{}},
		{"stub", Requirements{}},
	}
	for _, tt := range tests {
		got, err := RequirementsFor(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := RequirementsFor("TestSpark")
	assert.ErrorIs(t, err, ErrUnsupportedTool)
}

// =============================================================================
// Options
// =============================================================================

func TestEvoSuite_ParsesToolArgs(t *testing.T) {
	tl := newTool(t, "EvoSuite", "--cliArg -Dfoo=1 --cliArg=-Dbar=2 --llmTestLocation /llm --llmTestName gpt4", testEnv(t, &fakeRunner{}))
	e := tl.(*EvoSuite)

	assert.Equal(t, []string{"-Dfoo=1", "-Dbar=2"}, e.cliArgs)
	assert.Equal(t, "/llm", e.auxLocation)
	assert.Equal(t, "gpt4", e.auxName)

	cfg := tl.Config()
	assert.Equal(t, "/llm", cfg["llmTestLocation"])
	assert.Equal(t, "-Dfoo=1 -Dbar=2", cfg["cliArg"])
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args string
	}{
		{"unknown_flag", "EvoSuite", "--nope 1"},
		{"positional", "Kex", "stray"},
		{"missing_value", "EvoSuite", "--llmTestName"},
		{"stub_takes_nothing", "stub", "--x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tool, tt.args, Env{Runner: &fakeRunner{}})
			assert.Error(t, err)
		})
	}
}

func TestParseArgs_OptionsAreDefaults(t *testing.T) {
	env := testEnv(t, &fakeRunner{})
	env.Options = Options{"llmTestName": "from-file", "llmTestLocation": "/file", "unrelated": "x"}

	e := newTool(t, "EvoSuite", "--llmTestLocation /cli", env).(*EvoSuite)
	assert.Equal(t, "/cli", e.auxLocation, "command line wins")
	assert.Equal(t, "from-file", e.auxName, "file fills the rest")
}

// =============================================================================
// EvoSuite command
// =============================================================================

func TestEvoSuite_Command(t *testing.T) {
	runner := &fakeRunner{}
	env := testEnv(t, runner)
	tl := newTool(t, "EvoSuite", "--cliArg -Dshow_progress=false", env)
	tl.Init("/bench", []string{"/bench/classes", "/bench/lib/dep.jar"})

	out := outputDir(t, "3", "bench1")
	res := tl.Run(context.Background(), "com.acme.Foo", 60*time.Second, out)
	require.Equal(t, supervisor.Completed, res.Outcome.Kind)

	cmd := runner.last()
	assert.Equal(t, env.Java, cmd.Path)
	assert.Equal(t, evoSuiteLog, cmd.LogName)
	assert.Equal(t, []string{
		"-jar", "/opt/tga/lib/evosuite-master-1.2.1-SNAPSHOT-bugfix.jar",
		"-generateMOSuite",
		"-base_dir", out,
		"-projectCP", "/bench/classes:/bench/lib/dep.jar",
		"-Dnew_statistics=false",
		"-Dsearch_budget=60",
		"-class", "com.acme.Foo",
		"-Dcatch_undeclared_exceptions=false",
		"-Dtest_naming_strategy=COVERAGE",
		"-Dalgorithm=DYNAMOSA",
		"-Dno_runtime_dependency=true",
		"-Dcriterion=LINE:BRANCH:EXCEPTION:WEAKMUTATION:OUTPUT:METHOD:METHODNOEXCEPTION:CBRANCH",
		"-Dshow_progress=false",
	}, cmd.Args)
	assert.Equal(t, []time.Duration{60 * time.Second}, runner.budgets)
}

func TestEvoSuite_MissingAuxiliaryTestsSoftFail(t *testing.T) {
	out := outputDir(t, "3", "bench1")
	auxRoot := t.TempDir() // exists, but has no gpt4-3/bench1

	plainRunner := &fakeRunner{}
	plain := newTool(t, "EvoSuite", "", testEnv(t, plainRunner))
	plain.Init("/bench", []string{"/bench/classes"})
	plain.Run(context.Background(), "com.acme.Foo", time.Minute, out)

	auxRunner := &fakeRunner{}
	env := testEnv(t, auxRunner)
	env.Java = plainRunner.last().Path
	withAux := newTool(t, "EvoSuite", "--llmTestLocation "+auxRoot+" --llmTestName gpt4", env)
	withAux.Init("/bench", []string{"/bench/classes"})
	res := withAux.Run(context.Background(), "com.acme.Foo", time.Minute, out)

	assert.Equal(t, supervisor.Completed, res.Outcome.Kind)
	assert.Equal(t, plainRunner.last().Args, auxRunner.last().Args)
}

func TestEvoSuite_AuxiliaryTestsAugmentClasspath(t *testing.T) {
	out := outputDir(t, "run-2024-7", "bench1")
	auxRoot := t.TempDir()
	auxDir := filepath.Join(auxRoot, "gpt4-7", "bench1")
	for _, f := range []string{"FooLlmTest.exec", "BarLlmTest.exec", "notes.txt"} {
		writeSource(t, filepath.Join(auxDir, f), "")
	}

	runner := &fakeRunner{}
	tl := newTool(t, "EvoSuite", "--llmTestLocation "+auxRoot+" --llmTestName gpt4", testEnv(t, runner))
	tl.Init("/bench", []string{"/bench/classes"})
	tl.Run(context.Background(), "com.acme.Foo", time.Minute, out)

	args := runner.last().Args
	assert.Contains(t, args, "/bench/classes:"+auxDir)
	assert.Equal(t, "-Dselected_junit=BarLlmTest:FooLlmTest", args[len(args)-1])

	// The adapter's own classpath is untouched for the next job.
	tl.Run(context.Background(), "com.acme.Bar", time.Minute, outputDir(t, "9", "other"))
	assert.Contains(t, runner.last().Args, "/bench/classes")
	assert.NotContains(t, strings.Join(runner.last().Args, " "), auxDir)
}

func TestEvoSuite_MissingJavaFailsRun(t *testing.T) {
	runner := &fakeRunner{}
	env := testEnv(t, runner)
	env.Java = filepath.Join(t.TempDir(), "no-java")
	tl := newTool(t, "EvoSuite", "", env)
	tl.Init("/bench", nil)

	res := tl.Run(context.Background(), "com.acme.Foo", time.Minute, outputDir(t, "1", "b"))
	assert.Equal(t, supervisor.Failed, res.Outcome.Kind)
	assert.Error(t, res.Outcome.Err)
	assert.Empty(t, runner.cmds)
}

// =============================================================================
// EvoSuite report
// =============================================================================

func TestEvoSuite_ExampleScenario(t *testing.T) {
	out := outputDir(t, "3", "bench1")
	testsDir := filepath.Join(out, evoSuiteTestsDir, "com", "acme")
	original := filepath.Join(testsDir, "FooTest.java")

	runner := &fakeRunner{
		lines: []string{"* EvoSuite 1.2.1", "* Writing tests to file"},
		onRun: func(process.Command) {
			writeSource(t, original, evoSuiteClass("FooTest", 3))
			writeSource(t, filepath.Join(testsDir, "FooTest_scaffolding.java"), "package com.acme;\npublic class FooTest_scaffolding {}\n")
		},
	}
	tl := newTool(t, "EvoSuite", "", testEnv(t, runner))
	tl.Init("/bench", []string{"/bench/classes"})

	res := tl.Run(context.Background(), "com.acme.Foo", 60*time.Second, out)
	assert.Equal(t, filepath.Join(out, evoSuiteLog), res.LogPath)
	assert.Equal(t, []string{"* EvoSuite 1.2.1", "* Writing tests to file"}, res.LogTail)

	suite, err := tl.Report()
	require.NoError(t, err)

	assert.Equal(t, []string{"com.acme.FooTest0", "com.acme.FooTest1", "com.acme.FooTest2"}, suite.TestNames)
	assert.Equal(t, filepath.Join(out, evoSuiteTestsDir), suite.RootDirectory)
	assert.Contains(t, suite.Dependencies, job.Dependency{Group: "junit", Artifact: "junit", Version: "4.13.2"})
	assert.Len(t, suite.Dependencies, 3)
	assert.Equal(t, []string{filepath.Join(testsDir, "FooTest_scaffolding.java")}, suite.Resources)

	assert.NoFileExists(t, original)
	for i := 0; i < 3; i++ {
		assert.FileExists(t, filepath.Join(testsDir, "FooTest"+string(rune('0'+i))+".java"))
	}
	assert.FileExists(t, filepath.Join(out, evoSuiteLog))
}

func TestEvoSuite_OutputIsolation(t *testing.T) {
	var nextClass string
	var nextDir string
	runner := &fakeRunner{onRun: func(process.Command) {
		writeSource(t, filepath.Join(nextDir, evoSuiteTestsDir, "com", "acme", nextClass+".java"), evoSuiteClass(nextClass, 2))
	}}
	tl := newTool(t, "EvoSuite", "", testEnv(t, runner))

	nextClass, nextDir = "FooTest", outputDir(t, "1", "foo")
	tl.Init("/bench", nil)
	tl.Run(context.Background(), "com.acme.Foo", time.Minute, nextDir)
	first, err := tl.Report()
	require.NoError(t, err)

	nextClass, nextDir = "BarTest", outputDir(t, "1", "bar")
	tl.Init("/bench", nil)
	tl.Run(context.Background(), "com.acme.Bar", time.Minute, nextDir)
	second, err := tl.Report()
	require.NoError(t, err)

	assert.Equal(t, []string{"com.acme.FooTest0", "com.acme.FooTest1"}, first.TestNames)
	assert.Equal(t, []string{"com.acme.BarTest0", "com.acme.BarTest1"}, second.TestNames)
}

func TestEvoSuite_ReportOnMissingOutput(t *testing.T) {
	tl := newTool(t, "EvoSuite", "", testEnv(t, &fakeRunner{}))

	suite, err := tl.Report()
	require.NoError(t, err)
	assert.Zero(t, suite.Len())

	tl.Init("/bench", nil)
	tl.Run(context.Background(), "com.acme.Foo", time.Minute, outputDir(t, "1", "b"))
	suite, err = tl.Report()
	require.NoError(t, err)
	assert.Zero(t, suite.Len())
	assert.Len(t, suite.Dependencies, 3)
}

func TestEvoSuite_InterruptedRunStillReports(t *testing.T) {
	out := outputDir(t, "1", "b")
	runner := &fakeRunner{
		kind: supervisor.Interrupted,
		onRun: func(process.Command) {
			writeSource(t, filepath.Join(out, evoSuiteTestsDir, "FooTest.java"), evoSuiteClass("FooTest", 1))
		},
	}
	tl := newTool(t, "EvoSuite", "", testEnv(t, runner))
	tl.Init("/bench", nil)

	res := tl.Run(context.Background(), "com.acme.Foo", time.Minute, out)
	assert.Equal(t, supervisor.Interrupted, res.Outcome.Kind)

	suite, err := tl.Report()
	require.NoError(t, err)
	assert.Equal(t, []string{"FooTest0"}, suite.TestNames)
}

func TestEvoSuite_MalformedOutputFailsReport(t *testing.T) {
	out := outputDir(t, "1", "b")
	runner := &fakeRunner{onRun: func(process.Command) {
		writeSource(t, filepath.Join(out, evoSuiteTestsDir, "FooTest.java"), "package x;\n@Test\nclass Broken\n")
	}}
	tl := newTool(t, "EvoSuite", "", testEnv(t, runner))
	tl.Init("/bench", nil)
	tl.Run(context.Background(), "com.acme.Foo", time.Minute, out)

	_, err := tl.Report()
	assert.Error(t, err)
}

// =============================================================================
// Other adapters
// =============================================================================

func TestKex_CommandAndReport(t *testing.T) {
	out := outputDir(t, "1", "b")
	testsDir := filepath.Join(out, kexOutDir, kexTestsDir, "com", "acme")
	runner := &fakeRunner{onRun: func(process.Command) {
		writeSource(t, filepath.Join(testsDir, "FooTest.java"), evoSuiteClass("FooTest", 2))
		writeSource(t, filepath.Join(testsDir, "Equality.java"), "package com.acme;\npublic class Equality {}\n")
	}}
	tl := newTool(t, "kex", "--option kex:minimize:false", testEnv(t, runner))
	tl.Init("/bench", []string{"/bench/classes"})
	tl.Run(context.Background(), "com.acme.Foo", 2*time.Minute, out)

	cmd := runner.last()
	assert.Equal(t, "python3", cmd.Path)
	assert.Equal(t, []string{
		"/opt/tga/kex/kex.py",
		"--classpath", "/bench/classes",
		"--target", "com.acme.Foo",
		"--output", filepath.Join(out, "kex"),
		"--mode", "concolic",
		"--option", "concolic:timeLimit:120",
		"--option", "kex:minimize:false",
	}, cmd.Args)

	suite, err := tl.Report()
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.FooTest"}, suite.TestNames)
	assert.Len(t, suite.Resources, 1)
	assert.FileExists(t, filepath.Join(testsDir, "FooTest.java"), "kex output is not split")
}

func TestJazzer_CommandAndReport(t *testing.T) {
	out := outputDir(t, "1", "b")
	runner := &fakeRunner{onRun: func(process.Command) {
		writeSource(t, filepath.Join(out, jazzerReproducers, "Crash_0a1b.java"), "public class Crash_0a1b {}\n")
	}}
	tl := newTool(t, "Jazzer", "", testEnv(t, runner))
	tl.Init("/bench", []string{"/a", "/b"})
	tl.Run(context.Background(), "com.acme.Foo::parse", 30*time.Second, out)

	cmd := runner.last()
	assert.Equal(t, "/opt/tga/jazzer/jazzer", cmd.Path)
	assert.Contains(t, cmd.Args, "--cp=/a:/b")
	assert.Contains(t, cmd.Args, "--autofuzz=com.acme.Foo::parse")
	assert.Contains(t, cmd.Args, "-max_total_time=30")

	suite, err := tl.Report()
	require.NoError(t, err)
	assert.Equal(t, []string{"Crash_0a1b"}, suite.TestNames)
}

func TestManual_CopiesTargetTests(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src", "test", "java", "com", "acme")
	writeSource(t, filepath.Join(srcDir, "FooTest.java"), evoSuiteClass("FooTest", 2))
	writeSource(t, filepath.Join(srcDir, "FooTestEdge.java"), evoSuiteClass("FooTestEdge", 1))
	writeSource(t, filepath.Join(srcDir, "BarTest.java"), evoSuiteClass("BarTest", 1))

	runner := &fakeRunner{}
	tl := newTool(t, "Manual", "", testEnv(t, runner))
	tl.Init(root, nil)

	out := outputDir(t, "1", "b")
	res := tl.Run(context.Background(), "com.acme.Foo", time.Minute, out)
	assert.Equal(t, supervisor.Completed, res.Outcome.Kind)
	assert.Empty(t, runner.cmds, "manual tests run no process")
	assert.FileExists(t, filepath.Join(out, manualLog))

	suite, err := tl.Report()
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.FooTest", "com.acme.FooTestEdge"}, suite.TestNames)
	assert.FileExists(t, filepath.Join(srcDir, "FooTest.java"), "sources are copied, not moved")
}

func TestManual_NoTestsIsEmptySuite(t *testing.T) {
	tl := newTool(t, "Manual", "", testEnv(t, &fakeRunner{}))
	tl.Init(t.TempDir(), nil)
	res := tl.Run(context.Background(), "com.acme.Foo", time.Minute, outputDir(t, "1", "b"))
	assert.Equal(t, supervisor.Completed, res.Outcome.Kind)

	suite, err := tl.Report()
	require.NoError(t, err)
	assert.Zero(t, suite.Len())
}

func TestStub(t *testing.T) {
	tl := newTool(t, "stub", "", testEnv(t, &fakeRunner{}))
	tl.Init("/bench", nil)

	out := outputDir(t, "1", "b")
	res := tl.Run(context.Background(), "com.acme.Foo", time.Minute, out)
	assert.Equal(t, supervisor.Completed, res.Outcome.Kind)
	assert.FileExists(t, filepath.Join(out, stubLog))

	suite, err := tl.Report()
	require.NoError(t, err)
	assert.Zero(t, suite.Len())
	assert.Empty(t, suite.Dependencies)
}

func TestSplitTarget(t *testing.T) {
	pkg, simple := splitTarget("com.acme.Foo")
	assert.Equal(t, filepath.Join("com", "acme"), pkg)
	assert.Equal(t, "Foo", simple)

	pkg, simple = splitTarget("Foo")
	assert.Empty(t, pkg)
	assert.Equal(t, "Foo", simple)
}
