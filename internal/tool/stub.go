package tool

import (
	"context"
	"path/filepath"
	"time"

	"github.com/randomizedcoder/tga-worker/internal/job"
	"github.com/randomizedcoder/tga-worker/internal/logging"
)

const stubLog = "stub.log"

// Stub generates nothing. It exercises the pipeline without a real tool.
type Stub struct {
	base
}

func newStub(env Env, args []string) (Tool, error) {
	s := &Stub{base: newBase("stub", env)}
	if err := parseArgs(s.flags, args, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Run records the request in the run log.
func (s *Stub) Run(ctx context.Context, target string, budget time.Duration, outputDir string) RunResult {
	start := time.Now()
	if err := s.prepare(outputDir); err != nil {
		return s.finish(RunResult{Outcome: failedOutcome(err)})
	}

	res := RunResult{LogPath: filepath.Join(outputDir, stubLog)}
	runLog, err := logging.OpenRunLog(res.LogPath)
	if err != nil {
		res.Outcome = failedOutcome(err)
		return s.finish(res)
	}
	runLog.WriteLine("stub run for " + target + " with budget " + budget.String())
	runLog.Close()

	res.Outcome = completedOutcome(start)
	res.LogTail = runLog.RecentLines(logTailLines)
	return s.finish(res)
}

// Report returns an empty suite.
func (s *Stub) Report() (*job.TestSuite, error) {
	return job.EmptySuite(s.outputDir), nil
}
