package tool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/randomizedcoder/tga-worker/internal/logging"
	"github.com/randomizedcoder/tga-worker/internal/process"
	"github.com/randomizedcoder/tga-worker/internal/supervisor"
)

const (
	// logTailLines is how much of the run log failure reports carry.
	logTailLines = 20

	outputDirMode = 0o755
)

// base holds the state every adapter shares.
type base struct {
	name   string
	env    Env
	logger *slog.Logger
	flags  *pflag.FlagSet

	root      string
	classpath []string

	// outputDir is the directory of the last Run; Report reads it.
	outputDir string
}

func newBase(name string, env Env) base {
	return base{
		name:   name,
		env:    env,
		logger: env.logger().With("tool", name),
		flags:  newFlagSet(name),
	}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Init(root string, classpath []string) {
	b.root = root
	b.classpath = append([]string(nil), classpath...)
	b.outputDir = ""
}

func (b *base) Config() Options {
	return flagOptions(b.flags)
}

// jobClasspath returns a private copy of the classpath for one run.
func (b *base) jobClasspath() []string {
	return append([]string(nil), b.classpath...)
}

// prepare claims outputDir for this run.
func (b *base) prepare(outputDir string) error {
	b.outputDir = outputDir
	if err := os.MkdirAll(outputDir, outputDirMode); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}

// execute runs cmd with its output in the run log.
func (b *base) execute(ctx context.Context, cmd process.Command, budget time.Duration) RunResult {
	res := RunResult{Command: cmd, LogPath: filepath.Join(b.outputDir, cmd.LogName)}

	runLog, err := logging.OpenRunLog(res.LogPath)
	if err != nil {
		res.Outcome = failedOutcome(err)
		return b.finish(res)
	}

	b.logger.Debug("tool_command", "command", cmd.String())
	res.Outcome = b.env.Runner.Run(ctx, cmd, budget, runLog)
	if err := runLog.Close(); err != nil {
		b.logger.Warn("run_log_close_failed", "path", res.LogPath, "error", err)
	}
	res.LogTail = runLog.RecentLines(logTailLines)
	res.ErrorLines = runLog.ErrorLines()
	return b.finish(res)
}

// finish logs the result. Neither interruption nor failure propagates;
// the controller must stay able to take the next job.
func (b *base) finish(res RunResult) RunResult {
	out := res.Outcome
	switch out.Kind {
	case supervisor.Interrupted:
		b.logger.Warn("tool_interrupted",
			"reason", out.Reason,
			"leaked", out.Leaked,
			"output_dir", b.outputDir,
		)
	case supervisor.Failed:
		b.logger.Error("tool_run_failed",
			"error", out.Err,
			"log_tail", res.LogTail,
		)
	default:
		b.logger.Info("tool_run_completed",
			"exit_code", out.ExitCode,
			"duration", out.Duration().String(),
			"error_lines", res.ErrorLines,
		)
	}
	return res
}

// failedOutcome describes a run that never reached the supervisor.
func failedOutcome(err error) supervisor.Outcome {
	now := time.Now()
	return supervisor.Outcome{Kind: supervisor.Failed, ExitCode: -1, Err: err, Start: now, End: now}
}

// completedOutcome describes an in-process run.
func completedOutcome(start time.Time) supervisor.Outcome {
	return supervisor.Outcome{Kind: supervisor.Completed, Start: start, End: time.Now()}
}

// home resolves the tool installation directory.
func (b *base) home() string {
	if b.env.Home != "" {
		return b.env.Home
	}
	return os.Getenv(HomeEnv)
}

func (b *base) java() (string, error) {
	java, err := process.FindJava(b.env.Java)
	if err != nil {
		return "", fmt.Errorf("locate java: %w", err)
	}
	return java, nil
}
