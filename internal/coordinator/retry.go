package coordinator

import "time"

// DefaultRetryDelay is the pause between connection attempts.
const DefaultRetryDelay = time.Second

// RetryConfig controls reconnection. The delay never grows and attempts
// never stop; the worker has nothing else to do until it is connected.
type RetryConfig struct {
	Delay time.Duration
}

// DefaultRetryConfig returns the one second fixed delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Delay: DefaultRetryDelay}
}

// FixedRetry returns a config that waits d between every attempt.
func FixedRetry(d time.Duration) RetryConfig {
	return RetryConfig{Delay: d}
}

// normalized replaces a non-positive delay with the default.
func (r RetryConfig) normalized() RetryConfig {
	if r.Delay <= 0 {
		return DefaultRetryConfig()
	}
	return r
}
