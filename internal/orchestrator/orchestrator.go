// Package orchestrator wires the worker together: it connects to the
// coordinator, hands the connection to a job controller, and runs the
// metrics server and terminal dashboard alongside it.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/tga-worker/internal/config"
	"github.com/randomizedcoder/tga-worker/internal/controller"
	"github.com/randomizedcoder/tga-worker/internal/coordinator"
	"github.com/randomizedcoder/tga-worker/internal/job"
	"github.com/randomizedcoder/tga-worker/internal/metrics"
	"github.com/randomizedcoder/tga-worker/internal/preflight"
	"github.com/randomizedcoder/tga-worker/internal/supervisor"
	"github.com/randomizedcoder/tga-worker/internal/tool"
	"github.com/randomizedcoder/tga-worker/internal/tui"
)

// shutdownSlack is added to the supervisor grace period when waiting for
// the in-flight job during shutdown.
const shutdownSlack = 10 * time.Second

// Orchestrator coordinates all components of one worker.
type Orchestrator struct {
	config   *config.Config
	logger   *slog.Logger
	version  string
	workerID string
	out      io.Writer

	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	supervisor    *supervisor.Supervisor
	tool          tool.Tool
	client        *coordinator.Client

	mu         sync.RWMutex
	controller *controller.Controller
	program    *tea.Program
	connected  atomic.Bool

	startTime time.Time
}

// New builds every component from cfg. It fails when the tool cannot be
// constructed or the coordinator settings are invalid.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Orchestrator, error) {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}

	o := &Orchestrator{
		config:   cfg,
		logger:   logger.With("worker_id", workerID),
		version:  version,
		workerID: workerID,
		out:      os.Stdout,
		registry: prometheus.NewRegistry(),
	}

	o.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svCfg := cfg.SupervisorConfig()
	svCfg.Logger = o.logger
	svCfg.Callbacks = supervisor.Callbacks{
		OnStart: o.onProcessStart,
		OnExit:  o.onProcessExit,
	}
	o.supervisor = supervisor.New(svCfg)

	options, err := config.LoadToolConfig(cfg.ToolConfig, cfg.Tool)
	if err != nil {
		return nil, err
	}

	o.tool, err = tool.New(cfg.Tool, cfg.ToolArgs, tool.Env{
		Home:    cfg.ToolHome,
		Java:    cfg.JavaPath,
		Runner:  o.supervisor,
		Logger:  o.logger,
		Options: options,
	})
	if err != nil {
		return nil, err
	}

	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:  version,
		Tool:     o.tool.Name(),
		WorkerID: workerID,
	}, o.registry)

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, o.registry, o.connected.Load, o.logger)
	}

	o.client, err = coordinator.NewClient(coordinator.Config{
		Address:   cfg.Address,
		Port:      cfg.Port,
		Transport: cfg.Transport,
		WSPath:    cfg.WSPath,
		Tool:      o.tool.Name(),
		WorkerID:  workerID,
		Retry:     cfg.RetryConfig(),
		Logger:    o.logger,
		OnAttempt: o.onConnectAttempt,
	})
	if err != nil {
		return nil, err
	}

	return o, nil
}

// Run executes the worker. It blocks until the coordinator closes the
// connection, a signal arrives, the dashboard quits, or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		result := preflight.RunAll(ctx, preflight.Options{
			Tool:     o.config.Tool,
			ToolHome: o.config.ToolHome,
			JavaPath: o.config.JavaPath,
		})
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if o.config.TUIEnabled {
		o.startDashboard(gctx, g, cancel)
	}

	g.Go(func() error {
		defer o.stopDashboard()
		return o.serve(gctx)
	})

	err := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownSlack)
	defer shutdownCancel()
	if o.metricsServer != nil {
		if serr := o.metricsServer.Shutdown(shutdownCtx); serr != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", serr)
		}
	}

	if o.config.MetricsSnapshot != "" {
		if serr := metrics.WriteSnapshotFile(o.config.MetricsSnapshot, o.registry); serr != nil {
			o.logger.Warn("metrics_snapshot_failed", "path", o.config.MetricsSnapshot, "error", serr)
		} else {
			o.logger.Info("metrics_snapshot_written", "path", o.config.MetricsSnapshot)
		}
	}

	o.printExitSummary()

	return err
}

// serve connects to the coordinator and runs the controller on the
// connection until it closes or ctx is cancelled. A closed connection is
// terminal for the worker.
func (o *Orchestrator) serve(ctx context.Context) error {
	conn, err := o.client.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			o.logger.Info("connect_cancelled")
			return nil
		}
		return fmt.Errorf("connect to coordinator: %w", err)
	}
	o.setConnected(true)
	defer o.setConnected(false)

	ctrl := controller.New(controller.Config{
		Tool:   o.tool,
		Conn:   conn,
		Logger: o.logger,
		Callbacks: controller.Callbacks{
			OnStateChange: o.onControllerState,
			OnJobStart:    o.onJobStart,
			OnJobDone:     o.onJobDone,
		},
	})
	o.mu.Lock()
	o.controller = ctrl
	o.mu.Unlock()

	// Shutdown, not ctx, stops the controller so the in-flight job is
	// interrupted and settled before the connection closes.
	runErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(context.WithoutCancel(ctx))
	}()

	select {
	case err := <-runErr:
		if serr := o.shutdownController(ctrl); serr != nil {
			o.logger.Warn("controller_shutdown_incomplete", "error", serr)
		}
		return err
	case <-ctx.Done():
		o.logger.Info("shutdown_requested", "cause", context.Cause(ctx))
		if serr := o.shutdownController(ctrl); serr != nil {
			o.logger.Warn("controller_shutdown_incomplete", "error", serr)
			return nil
		}
		return <-runErr
	}
}

func (o *Orchestrator) shutdownController(ctrl *controller.Controller) error {
	timeout := o.supervisor.GracePeriod() + shutdownSlack
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return ctrl.Shutdown(ctx)
}

// =============================================================================
// Dashboard
// =============================================================================

func (o *Orchestrator) startDashboard(ctx context.Context, g *errgroup.Group, cancel context.CancelFunc) {
	model := tui.New(tui.Config{
		Coordinator:   o.config.CoordinatorAddr(),
		MetricsAddr:   o.config.MetricsAddr,
		StatusSource:  o,
		SummarySource: o.metrics,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	o.mu.Lock()
	o.program = p
	o.mu.Unlock()

	g.Go(func() error {
		// Quitting the dashboard stops the worker.
		defer cancel()
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	})
}

func (o *Orchestrator) stopDashboard() {
	o.mu.RLock()
	p := o.program
	o.mu.RUnlock()
	tui.SendQuit(p)
}

func (o *Orchestrator) dashboard() *tea.Program {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.program
}

// =============================================================================
// Status
// =============================================================================

// Status returns the controller status, or an idle status before the
// coordinator connection exists.
func (o *Orchestrator) Status() controller.Status {
	o.mu.RLock()
	ctrl := o.controller
	o.mu.RUnlock()
	if ctrl == nil {
		return controller.Status{State: controller.StateIdle, Tool: o.tool.Name()}
	}
	return ctrl.Status()
}

// WorkerID returns the identifier announced to the coordinator.
func (o *Orchestrator) WorkerID() string {
	return o.workerID
}

// Registry returns the worker's metrics registry.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Tool returns the configured tool adapter.
func (o *Orchestrator) Tool() tool.Tool {
	return o.tool
}

// =============================================================================
// Callback handlers
// =============================================================================

func (o *Orchestrator) setConnected(connected bool) {
	o.connected.Store(connected)
	o.metrics.SetConnected(connected)
	tui.SendConnected(o.dashboard(), connected)
}

func (o *Orchestrator) onConnectAttempt(attempt int, err error) {
	o.metrics.RecordConnectAttempt(err)
}

func (o *Orchestrator) onProcessStart(pid int) {
	o.metrics.ProcessStarted()
	if o.config.Verbose {
		o.logger.Debug("tool_process_started", "pid", pid)
	}
}

func (o *Orchestrator) onProcessExit(outcome supervisor.Outcome) {
	o.metrics.RecordProcessExit(outcome.Category())
}

func (o *Orchestrator) onControllerState(oldState, newState controller.State) {
	if o.config.Verbose {
		o.logger.Debug("controller_state", "from", oldState.String(), "to", newState.String())
	}
}

func (o *Orchestrator) onJobStart(j job.Job) {
	o.metrics.JobStarted()
}

func (o *Orchestrator) onJobDone(report controller.JobReport) {
	o.metrics.RecordJob(observe(report))
	tui.SendJobDone(o.dashboard(), report)
}

// observe converts a controller report into a metrics observation.
func observe(r controller.JobReport) metrics.JobObservation {
	obs := metrics.JobObservation{
		Duration:   r.Elapsed,
		ErrorLines: int(r.Run.ErrorLines),
		Failed:     r.Failed(),
		Leaked:     r.Run.Outcome.Leaked,
	}
	if r.Ran && r.Run.Outcome.Kind == supervisor.Interrupted {
		obs.Interrupted = true
	}
	if !obs.Failed {
		obs.Tests = r.Suite.Len()
	}
	return obs
}

// printExitSummary prints a summary of the worker run.
func (o *Orchestrator) printExitSummary() {
	fmt.Fprint(o.out, metrics.FormatExitSummary(o.metrics.GenerateSummary(), metrics.SummaryConfig{
		Tool:        o.tool.Name(),
		WorkerID:    o.workerID,
		Coordinator: o.config.CoordinatorAddr(),
		MetricsAddr: o.config.MetricsAddr,
	}))
}
