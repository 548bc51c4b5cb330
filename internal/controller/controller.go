package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/tga-worker/internal/coordinator"
	"github.com/randomizedcoder/tga-worker/internal/job"
	"github.com/randomizedcoder/tga-worker/internal/supervisor"
	"github.com/randomizedcoder/tga-worker/internal/tool"
)

// Connection is the part of the coordinator channel the controller uses.
// *coordinator.Connection implements it.
type Connection interface {
	ReceiveJob(ctx context.Context) (job.Job, error)
	SendResult(jobID string, suite *job.TestSuite, elapsed time.Duration) error
	SendFailure(report coordinator.FailureReport) error
	Close() error
}

// JobReport summarizes one processed job.
type JobReport struct {
	Job     job.Job
	Run     tool.RunResult
	Suite   *job.TestSuite
	Err     error
	Elapsed time.Duration

	// Ran is false when the job was rejected before the tool ran.
	Ran bool

	// Sent is true when the coordinator accepted the result or failure.
	Sent bool
}

// Failed reports whether the job ended with a failure message.
func (r JobReport) Failed() bool {
	return r.Err != nil
}

// Callbacks contains optional callback functions for controller events.
type Callbacks struct {
	OnStateChange func(oldState, newState State)
	OnJobStart    func(j job.Job)
	OnJobDone     func(report JobReport)
}

// Config holds configuration for creating a new Controller.
type Config struct {
	Tool      tool.Tool
	Conn      Connection
	Logger    *slog.Logger
	Callbacks Callbacks
}

// Status is a point-in-time view of the controller.
type Status struct {
	State       State
	Tool        string
	CurrentJob  *job.Job
	JobStarted  time.Time
	Processed   int64
	Failed      int64
	Interrupted int64
	Leaked      int64
	Tests       int64
}

// Controller owns the job loop. It processes exactly one job at a time, in
// receipt order.
type Controller struct {
	tool      tool.Tool
	conn      Connection
	logger    *slog.Logger
	callbacks Callbacks

	mu         sync.RWMutex
	state      State
	current    *job.Job
	jobStarted time.Time

	processed   atomic.Int64
	failed      atomic.Int64
	interrupted atomic.Int64
	leaked      atomic.Int64
	tests       atomic.Int64

	running  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

// New creates a Controller in StateIdle.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		tool:      cfg.Tool,
		conn:      cfg.Conn,
		logger:    logger,
		callbacks: cfg.Callbacks,
		state:     StateIdle,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run processes jobs until the coordinator closes the channel, ctx is
// cancelled or Shutdown is called; those return nil. Any other receive
// error is returned.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	defer close(c.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-runCtx.Done():
		}
	}()

	c.logger.Info("controller_started", "tool", c.tool.Name())

	for {
		select {
		case <-c.quit:
			return nil
		case <-runCtx.Done():
			return nil
		default:
		}
		c.setState(StateIdle)

		j, err := c.conn.ReceiveJob(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			if errors.Is(err, coordinator.ErrConnectionClosed) {
				c.logger.Info("coordinator_closed_connection")
				return nil
			}
			return fmt.Errorf("receive job: %w", err)
		}

		c.process(runCtx, j)
	}
}

// process drives one job through the tool and reports the outcome. It
// never returns an error; the loop must stay able to take the next job.
func (c *Controller) process(ctx context.Context, j job.Job) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	start := time.Now()

	c.mu.Lock()
	c.current = &j
	c.jobStarted = start
	c.mu.Unlock()
	c.setState(StateRunningJob)
	defer func() {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}()

	logger := c.logger.With("job_id", j.ShortID(), "target", j.Target)
	logger.Info("job_received",
		"output_dir", j.OutputDirectory,
		"budget", j.TimeBudget.String(),
		"classpath_entries", len(j.Classpath),
	)
	if c.callbacks.OnJobStart != nil {
		c.callbacks.OnJobStart(j)
	}

	report := c.execute(ctx, logger, j)
	report.Elapsed = time.Since(start)
	report.Sent = c.send(logger, report)

	c.processed.Add(1)
	if report.Failed() {
		c.failed.Add(1)
	}
	c.tests.Add(int64(report.Suite.Len()))

	logger.Info("job_finished",
		"tests", report.Suite.Len(),
		"failed", report.Failed(),
		"elapsed", report.Elapsed.String(),
		"sent", report.Sent,
	)
	if c.callbacks.OnJobDone != nil {
		c.callbacks.OnJobDone(report)
	}
}

func (c *Controller) execute(ctx context.Context, logger *slog.Logger, j job.Job) JobReport {
	report := JobReport{Job: j}

	if err := j.Validate(); err != nil {
		report.Err = fmt.Errorf("invalid job: %w", err)
		return report
	}

	c.tool.Init(j.Root, j.Classpath)
	report.Run = c.tool.Run(ctx, j.Target, j.TimeBudget, j.OutputDirectory)
	report.Ran = true

	out := report.Run.Outcome
	if out.Leaked {
		c.leaked.Add(1)
		logger.Error("termination_exhausted",
			"pid", out.PID,
			"action", "process leaked, operator attention required",
		)
	}
	switch out.Kind {
	case supervisor.Failed:
		report.Err = fmt.Errorf("tool run failed: %w", out.Err)
		return report
	case supervisor.Interrupted:
		c.interrupted.Add(1)
	}

	suite, err := c.tool.Report()
	if err != nil {
		report.Err = fmt.Errorf("report: %w", err)
		return report
	}
	if err := suite.CheckUnique(); err != nil {
		report.Err = err
		return report
	}
	report.Suite = suite
	return report
}

func (c *Controller) send(logger *slog.Logger, report JobReport) bool {
	var err error
	if report.Failed() {
		logger.Warn("job_failed", "error", report.Err)
		out := report.Run.Outcome
		failure := coordinator.FailureReport{
			JobID:          report.Job.ID,
			Error:          report.Err.Error(),
			ExitCode:       -1,
			LogTail:        report.Run.LogTail,
			GenerationTime: report.Elapsed.Milliseconds(),
		}
		if report.Ran {
			failure.Outcome = out.Kind.String()
			failure.ExitCode = out.ExitCode
		}
		err = c.conn.SendFailure(failure)
	} else {
		err = c.conn.SendResult(report.Job.ID, report.Suite, report.Elapsed)
	}
	if err != nil {
		logger.Error("result_send_failed", "error", err)
		return false
	}
	return true
}

// Shutdown cancels the in-flight job, waits for the loop to settle, then
// closes the connection. ctx bounds the wait.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.setState(StateShuttingDown)
	c.quitOnce.Do(func() { close(c.quit) })

	var err error
	if c.running.Load() {
		select {
		case <-c.done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for in-flight job: %w", ctx.Err())
		}
	}

	if cerr := c.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	c.setState(StateStopped)
	c.logger.Info("controller_stopped",
		"processed", c.processed.Load(),
		"failed", c.failed.Load(),
	)
	return err
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot for display.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{
		State:       c.state,
		Tool:        c.tool.Name(),
		JobStarted:  c.jobStarted,
		Processed:   c.processed.Load(),
		Failed:      c.failed.Load(),
		Interrupted: c.interrupted.Load(),
		Leaked:      c.leaked.Load(),
		Tests:       c.tests.Load(),
	}
	if c.current != nil {
		j := *c.current
		s.CurrentJob = &j
	}
	return s
}

func (c *Controller) setState(newState State) {
	c.mu.Lock()
	oldState := c.state
	if oldState == newState || !canTransition(oldState, newState) {
		c.mu.Unlock()
		return
	}
	c.state = newState
	c.mu.Unlock()

	c.logger.Debug("controller_state", "from", oldState.String(), "to", newState.String())
	if c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(oldState, newState)
	}
}
