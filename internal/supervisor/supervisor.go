package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/tga-worker/internal/process"
)

const (
	// DefaultGraceAttempts and DefaultGraceInterval bound the wait after
	// SIGTERM: 10 x 500ms.
	DefaultGraceAttempts = 10
	DefaultGraceInterval = 500 * time.Millisecond

	// DefaultDeadlineMargin is added to the time budget to form the hard
	// wall-clock deadline.
	DefaultDeadlineMargin = 2 * time.Minute

	// killWait bounds the wait for exit after SIGKILL.
	killWait = 2 * time.Second

	// drainTimeout bounds the wait for remaining output after exit. A
	// grandchild holding the pipe open must not block the run.
	drainTimeout = 5 * time.Second

	maxLineBytes = 1024 * 1024
)

// LineSink receives the merged output of a run, one line at a time.
// logging.RunLog implements it.
type LineSink interface {
	WriteLine(line string) error
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called after the process has been spawned.
	OnStart func(pid int)

	// OnExit is called with the final outcome of every run.
	OnExit func(outcome Outcome)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Logger    *slog.Logger
	Callbacks Callbacks

	// GraceAttempts x GraceInterval is the wait after SIGTERM before SIGKILL.
	GraceAttempts int
	GraceInterval time.Duration

	// DeadlineMargin is added to the time budget for the hard deadline.
	// Negative disables the hard deadline.
	DeadlineMargin time.Duration
}

// Supervisor runs one process at a time. It is safe to reuse across runs
// but not to call Run concurrently.
type Supervisor struct {
	logger    *slog.Logger
	callbacks Callbacks

	graceAttempts  int
	graceInterval  time.Duration
	deadlineMargin time.Duration

	state   State
	stateMu sync.RWMutex
	pid     atomic.Int64
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	attempts := cfg.GraceAttempts
	if attempts <= 0 {
		attempts = DefaultGraceAttempts
	}
	interval := cfg.GraceInterval
	if interval <= 0 {
		interval = DefaultGraceInterval
	}
	return &Supervisor{
		logger:         logger,
		callbacks:      cfg.Callbacks,
		graceAttempts:  attempts,
		graceInterval:  interval,
		deadlineMargin: cfg.DeadlineMargin,
		state:          StateIdle,
	}
}

// GracePeriod returns the total wait between SIGTERM and SIGKILL.
func (s *Supervisor) GracePeriod() time.Duration {
	return time.Duration(s.graceAttempts) * s.graceInterval
}

// Run spawns cmd with stdout and stderr merged into sink, and waits for it
// to exit. Cancelling ctx, or passing budget+DeadlineMargin, stops the
// process: SIGTERM to its process group, up to GracePeriod for it to exit,
// then SIGKILL.
//
// Run never returns an error for ordinary process failure; a non-zero exit
// is reported as Completed with that exit code.
func (s *Supervisor) Run(ctx context.Context, cmd process.Command, budget time.Duration, sink LineSink) (out Outcome) {
	out = Outcome{ExitCode: -1, Start: time.Now()}
	defer func() {
		out.End = time.Now()
		s.pid.Store(0)
		s.setState(StateIdle)
		if s.callbacks.OnExit != nil {
			s.callbacks.OnExit(out)
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Kind = Interrupted
		out.Reason = ReasonCancelled
		return out
	}

	s.setState(StateStarting)

	pr, pw, err := os.Pipe()
	if err != nil {
		out.Kind = Failed
		out.Err = fmt.Errorf("create output pipe: %w", err)
		return out
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdout = pw
	c.Stderr = pw
	// Own process group so signals reach the JVM and anything it forks.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		pr.Close()
		pw.Close()
		s.logger.Error("tool_process_spawn_failed",
			"command", cmd.Path,
			"error", err,
		)
		out.Kind = Failed
		out.Err = fmt.Errorf("start %s: %w", cmd.Path, err)
		return out
	}
	// The child holds its own copy; ours must go so EOF arrives on exit.
	pw.Close()

	out.PID = c.Process.Pid
	s.pid.Store(int64(out.PID))
	s.setState(StateRunning)

	s.logger.Info("tool_process_started",
		"pid", out.PID,
		"command", cmd.String(),
		"budget", budget.String(),
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(out.PID)
	}

	var (
		g        errgroup.Group
		waitErr  error
		lines    atomic.Int64
		exited   = make(chan struct{})
		streamed = make(chan struct{})
	)

	// Reading and waiting must progress together or a chatty tool blocks
	// on a full pipe while we block in Wait.
	g.Go(func() error {
		defer close(streamed)
		return s.stream(pr, sink, &lines)
	})
	g.Go(func() error {
		waitErr = c.Wait()
		close(exited)
		return nil
	})

	var deadline <-chan time.Time
	if s.deadlineMargin >= 0 && budget > 0 {
		timer := time.NewTimer(budget + s.deadlineMargin)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-exited:
	case <-ctx.Done():
		out.Reason = ReasonCancelled
	case <-deadline:
		out.Reason = ReasonDeadline
	}

	if out.Reason != "" && isClosed(exited) {
		// Lost the race with a natural exit.
		out.Reason = ""
	}
	if out.Reason != "" {
		s.logger.Info("tool_process_stopping",
			"pid", out.PID,
			"reason", out.Reason,
		)
		s.setState(StateTerminating)
		out.Forced, out.Leaked = s.terminate(out.PID, exited)
	}

	if out.Leaked {
		// The waiter is still blocked; closing the read end releases the
		// streamer but the process itself is beyond our reach.
		pr.Close()
		out.Kind = Interrupted
		out.Err = ErrTerminationExhausted
		out.Lines = lines.Load()
		s.logger.Error("termination_exhausted",
			"pid", out.PID,
			"grace_period", s.GracePeriod().String(),
		)
		return out
	}

	select {
	case <-streamed:
	case <-time.After(drainTimeout):
		s.logger.Warn("tool_output_drain_timeout",
			"pid", out.PID,
			"timeout", drainTimeout.String(),
		)
	}
	pr.Close()
	streamErr := g.Wait()

	out.ExitCode = extractExitCode(waitErr)
	out.Lines = lines.Load()

	switch {
	case out.Reason != "":
		out.Kind = Interrupted
	case streamErr != nil:
		out.Kind = Failed
		out.Err = streamErr
	default:
		out.Kind = Completed
	}

	s.logger.Info("tool_process_exited",
		"pid", out.PID,
		"outcome", out.Kind.String(),
		"exit_code", out.ExitCode,
		"lines", out.Lines,
		"uptime", time.Since(out.Start).String(),
	)
	return out
}

// stream copies r into sink line by line. Sink errors are logged once and
// reading continues so the child never blocks on a full pipe.
func (s *Supervisor) stream(r io.Reader, sink LineSink, lines *atomic.Int64) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	sinkFailed := false
	for scanner.Scan() {
		lines.Add(1)
		if sink == nil || sinkFailed {
			continue
		}
		if err := sink.WriteLine(scanner.Text()); err != nil {
			sinkFailed = true
			s.logger.Warn("run_log_write_failed", "error", err)
		}
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return nil
	}
	if errors.Is(err, bufio.ErrTooLong) {
		// Keep draining so the process can finish; the rest is discarded.
		io.Copy(io.Discard, r)
		s.logger.Warn("tool_output_line_too_long", "max_bytes", maxLineBytes)
		return nil
	}
	return fmt.Errorf("read tool output: %w", err)
}

// terminate sends SIGTERM to the process group, polls for exit each grace
// interval, then sends SIGKILL. It reports whether SIGKILL was needed and
// whether the process outlived it.
func (s *Supervisor) terminate(pid int, exited <-chan struct{}) (forced, leaked bool) {
	signalGroup(pid, unix.SIGTERM)

	for i := 0; i < s.graceAttempts; i++ {
		select {
		case <-exited:
			return false, false
		case <-time.After(s.graceInterval):
		}
	}

	s.logger.Warn("force_killing_process",
		"pid", pid,
		"grace_period", s.GracePeriod().String(),
	)
	signalGroup(pid, unix.SIGKILL)

	select {
	case <-exited:
		return true, false
	case <-time.After(killWait):
		return true, true
	}
}

// signalGroup signals the whole process group, falling back to the single
// process when the group is gone.
func signalGroup(pid int, sig unix.Signal) {
	if pgid, err := unix.Getpgid(pid); err == nil {
		if unix.Kill(-pgid, sig) == nil {
			return
		}
	}
	_ = unix.Kill(pid, sig)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// PID returns the pid of the running process, or 0.
func (s *Supervisor) PID() int {
	return int(s.pid.Load())
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
