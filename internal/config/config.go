// Package config provides configuration management for tga-worker.
package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/randomizedcoder/tga-worker/internal/coordinator"
	"github.com/randomizedcoder/tga-worker/internal/supervisor"
	"github.com/randomizedcoder/tga-worker/internal/tool"
)

// Config holds all configuration options for the worker.
type Config struct {
	// Coordinator
	Address    string        `json:"ip"`
	Port       int           `json:"port"`
	Transport  string        `json:"transport"` // tcp, websocket
	WSPath     string        `json:"ws_path"`
	RetryDelay time.Duration `json:"retry_delay"`
	WorkerID   string        `json:"worker_id"` // empty = generated

	// Tool
	Tool       string `json:"tool"`
	ToolArgs   string `json:"tool_args"`
	ToolHome   string `json:"tool_home"`
	JavaPath   string `json:"java"`
	ToolConfig string `json:"tool_config"` // YAML file with adapter option defaults

	// Process supervision
	GraceAttempts  int           `json:"grace_attempts"`
	GraceInterval  time.Duration `json:"grace_interval"`
	DeadlineMargin time.Duration `json:"deadline_margin"` // negative = no hard deadline

	// Observability
	MetricsAddr     string `json:"metrics_addr"` // empty = disabled
	MetricsSnapshot string `json:"metrics_snapshot"`
	Verbose         bool   `json:"verbose"`
	LogFormat       string `json:"log_format"` // json, text, auto

	// Dashboard
	TUIEnabled bool `json:"tui"`

	// Diagnostic modes
	SkipPreflight bool `json:"skip_preflight"`
	ShowVersion   bool `json:"version"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Coordinator
		Address:    "localhost",
		Port:       0,
		Transport:  coordinator.TransportTCP,
		WSPath:     coordinator.DefaultWebSocketPath,
		RetryDelay: coordinator.DefaultRetryDelay,

		// Tool
		ToolHome: os.Getenv(tool.HomeEnv),

		// Process supervision
		GraceAttempts:  supervisor.DefaultGraceAttempts,
		GraceInterval:  supervisor.DefaultGraceInterval,
		DeadlineMargin: supervisor.DefaultDeadlineMargin,

		// Observability
		MetricsAddr: "0.0.0.0:17091",
		LogFormat:   "auto",

		TUIEnabled: false,
	}
}

// CoordinatorAddr returns the coordinator address as host:port.
func (c *Config) CoordinatorAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// RetryConfig returns the coordinator retry policy: a fixed delay.
func (c *Config) RetryConfig() coordinator.RetryConfig {
	return coordinator.FixedRetry(c.RetryDelay)
}

// SupervisorConfig returns the supervision settings. Logger and callbacks
// are filled in by the caller.
func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		GraceAttempts:  c.GraceAttempts,
		GraceInterval:  c.GraceInterval,
		DeadlineMargin: c.DeadlineMargin,
	}
}
