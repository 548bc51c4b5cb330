package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randomizedcoder/tga-worker/internal/coordinator"
	"github.com/randomizedcoder/tga-worker/internal/tool"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "ip",
			Message: "coordinator address is required",
		})
	} else if strings.Contains(cfg.Address, "://") {
		errs = append(errs, ValidationError{
			Field:   "ip",
			Message: "must be a host or IP address, not a URL",
		})
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("must be between 1 and 65535 (got %d)", cfg.Port),
		})
	}

	switch cfg.Transport {
	case coordinator.TransportTCP:
	case coordinator.TransportWebSocket:
		if !strings.HasPrefix(cfg.WSPath, "/") {
			errs = append(errs, ValidationError{
				Field:   "ws_path",
				Message: fmt.Sprintf("must start with '/' (got %q)", cfg.WSPath),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "transport",
			Message: fmt.Sprintf("must be 'tcp' or 'websocket' (got %q)", cfg.Transport),
		})
	}

	if cfg.RetryDelay <= 0 {
		errs = append(errs, ValidationError{
			Field:   "retry_delay",
			Message: "must be positive",
		})
	}

	if cfg.Tool == "" {
		errs = append(errs, ValidationError{
			Field:   "tool",
			Message: "tool name is required",
		})
	} else if !tool.Supported(cfg.Tool) {
		errs = append(errs, ValidationError{
			Field:   "tool",
			Message: fmt.Sprintf("unsupported tool %q (supported: %s)", cfg.Tool, strings.Join(tool.Names(), ", ")),
		})
	}

	if cfg.GraceAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "grace_attempts",
			Message: "must be at least 1",
		})
	}
	if cfg.GraceInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "grace_interval",
			Message: "must be positive",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "auto": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json', 'text' or 'auto' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
