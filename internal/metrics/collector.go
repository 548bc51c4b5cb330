// Package metrics provides Prometheus metrics for tga-worker.
//
// All metrics are per-worker aggregates. Job labels are limited to bounded
// value sets (result, category) so the series count stays fixed no matter
// how many jobs a worker processes.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tga_worker"

// Job results used as the "result" label of tga_worker_jobs_total.
const (
	ResultSuccess     = "success"
	ResultFailed      = "failed"
	ResultInterrupted = "interrupted"
)

// CollectorConfig holds collector configuration.
type CollectorConfig struct {
	Version  string
	Tool     string
	WorkerID string
}

// Collector manages Prometheus metrics for one worker.
type Collector struct {
	info             *prometheus.GaugeVec
	connectAttempts  *prometheus.CounterVec
	connected        prometheus.Gauge
	jobsTotal        *prometheus.CounterVec
	jobRunning       prometheus.Gauge
	jobDuration      prometheus.Histogram
	jobDurationP50   prometheus.Gauge
	jobDurationP95   prometheus.Gauge
	jobDurationP99   prometheus.Gauge
	processExits     *prometheus.CounterVec
	leakedProcesses  prometheus.Counter
	testsGenerated   prometheus.Counter
	logErrorLines    prometheus.Counter
	processStarts    prometheus.Counter
	lastJobTimestamp prometheus.Gauge

	mu             sync.Mutex
	startTime      time.Time
	digest         *tdigest.TDigest
	jobs           int64
	failed         int64
	interrupted    int64
	leaked         int64
	tests          int64
	connects       int64
	exitCategories map[string]int64
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// This is useful for testing to avoid duplicate registration.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "info",
				Help:      "Information about the worker (value always 1)",
			},
			[]string{"version", "tool", "worker_id"},
		),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_attempts_total",
				Help:      "Coordinator connection attempts by result",
			},
			[]string{"result"},
		),
		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connected",
				Help:      "1 while a coordinator connection is open",
			},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Jobs processed by result",
			},
			[]string{"result"},
		),
		jobRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_running",
				Help:      "1 while a job is in flight",
			},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall-clock time per job",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
			},
		),
		jobDurationP50: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_duration_p50_seconds",
				Help:      "Median job time",
			},
		),
		jobDurationP95: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_duration_p95_seconds",
				Help:      "95th percentile job time",
			},
		),
		jobDurationP99: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_duration_p99_seconds",
				Help:      "99th percentile job time",
			},
		),
		processExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_exits_total",
				Help:      "Tool process exits by category",
			},
			[]string{"category"},
		),
		leakedProcesses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leaked_processes_total",
				Help:      "Tool processes that survived termination escalation",
			},
		),
		testsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tests_generated_total",
				Help:      "Test cases reported to the coordinator",
			},
		),
		logErrorLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_error_lines_total",
				Help:      "Error-looking lines seen in tool output",
			},
		),
		processStarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_starts_total",
				Help:      "Tool processes spawned",
			},
		),
		lastJobTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_job_timestamp_seconds",
				Help:      "Unix time the last job finished",
			},
		),
		startTime:      time.Now(),
		digest:         tdigest.NewWithCompression(100),
		exitCategories: make(map[string]int64),
	}

	registry.MustRegister(
		c.info,
		c.connectAttempts,
		c.connected,
		c.jobsTotal,
		c.jobRunning,
		c.jobDuration,
		c.jobDurationP50,
		c.jobDurationP95,
		c.jobDurationP99,
		c.processExits,
		c.leakedProcesses,
		c.testsGenerated,
		c.logErrorLines,
		c.processStarts,
		c.lastJobTimestamp,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Tool, cfg.WorkerID).Set(1)

	// Pre-create the bounded label sets so dashboards see zeros.
	for _, r := range []string{"success", "failure"} {
		c.connectAttempts.WithLabelValues(r)
	}
	for _, r := range []string{ResultSuccess, ResultFailed, ResultInterrupted} {
		c.jobsTotal.WithLabelValues(r)
	}

	return c
}

// =============================================================================
// Update Methods
// =============================================================================

// RecordConnectAttempt records one coordinator connection attempt.
func (c *Collector) RecordConnectAttempt(err error) {
	if err != nil {
		c.connectAttempts.WithLabelValues("failure").Inc()
		return
	}
	c.connectAttempts.WithLabelValues("success").Inc()
	c.mu.Lock()
	c.connects++
	c.mu.Unlock()
}

// SetConnected sets the connection gauge.
func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.connected.Set(1)
		return
	}
	c.connected.Set(0)
}

// JobStarted marks a job as in flight.
func (c *Collector) JobStarted() {
	c.jobRunning.Set(1)
}

// ProcessStarted counts a spawned tool process.
func (c *Collector) ProcessStarted() {
	c.processStarts.Inc()
}

// RecordProcessExit counts a tool process exit by category.
func (c *Collector) RecordProcessExit(category string) {
	c.processExits.WithLabelValues(category).Inc()

	c.mu.Lock()
	c.exitCategories[category]++
	c.mu.Unlock()
}

// JobObservation is what the worker knows about a finished job.
type JobObservation struct {
	Duration    time.Duration
	Tests       int
	ErrorLines  int
	Failed      bool
	Interrupted bool
	Leaked      bool
}

// Result returns the jobs_total label for the observation.
func (o JobObservation) Result() string {
	switch {
	case o.Failed:
		return ResultFailed
	case o.Interrupted:
		return ResultInterrupted
	default:
		return ResultSuccess
	}
}

// RecordJob records a finished job.
func (c *Collector) RecordJob(obs JobObservation) {
	c.jobRunning.Set(0)
	c.jobsTotal.WithLabelValues(obs.Result()).Inc()
	c.jobDuration.Observe(obs.Duration.Seconds())
	c.lastJobTimestamp.SetToCurrentTime()
	if obs.Tests > 0 {
		c.testsGenerated.Add(float64(obs.Tests))
	}
	if obs.ErrorLines > 0 {
		c.logErrorLines.Add(float64(obs.ErrorLines))
	}
	if obs.Leaked {
		c.leakedProcesses.Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.jobs++
	if obs.Failed {
		c.failed++
	}
	if obs.Interrupted {
		c.interrupted++
	}
	if obs.Leaked {
		c.leaked++
	}
	c.tests += int64(obs.Tests)

	c.digest.Add(obs.Duration.Seconds(), 1)
	c.jobDurationP50.Set(c.digest.Quantile(0.50))
	c.jobDurationP95.Set(c.digest.Quantile(0.95))
	c.jobDurationP99.Set(c.digest.Quantile(0.99))
}

// ErrNoJobs is returned by JobTimeQuantile before any job was recorded.
var ErrNoJobs = errors.New("no jobs recorded")

// JobTimeQuantile returns the estimated job time at quantile q (0.0-1.0).
func (c *Collector) JobTimeQuantile(q float64) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jobs == 0 {
		return 0, ErrNoJobs
	}
	return secondsToDuration(c.digest.Quantile(q)), nil
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration       time.Duration
	Connections    int64
	JobsProcessed  int64
	JobsFailed     int64
	Interrupted    int64
	Leaked         int64
	TestsGenerated int64
	ExitCategories map[string]int64
	JobTimeP50     time.Duration
	JobTimeP95     time.Duration
	JobTimeP99     time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:       time.Since(c.startTime),
		Connections:    c.connects,
		JobsProcessed:  c.jobs,
		JobsFailed:     c.failed,
		Interrupted:    c.interrupted,
		Leaked:         c.leaked,
		TestsGenerated: c.tests,
		ExitCategories: make(map[string]int64, len(c.exitCategories)),
	}

	for category, count := range c.exitCategories {
		s.ExitCategories[category] = count
	}

	if c.jobs > 0 {
		s.JobTimeP50 = secondsToDuration(c.digest.Quantile(0.50))
		s.JobTimeP95 = secondsToDuration(c.digest.Quantile(0.95))
		s.JobTimeP99 = secondsToDuration(c.digest.Quantile(0.99))
	}

	return s
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
