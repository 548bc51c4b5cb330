// Package controller runs the worker's job loop: receive a job, drive the
// tool, send back the suite, one job at a time.
package controller

// State represents the controller lifecycle.
type State int

const (
	// StateIdle is waiting for the next job.
	StateIdle State = iota

	// StateRunningJob is driving the tool for one job.
	StateRunningJob

	// StateShuttingDown has cancelled the in-flight job and is waiting for
	// it to settle.
	StateShuttingDown

	// StateStopped is terminal.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunningJob:
		return "running_job"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// canTransition reports whether from -> to is allowed. Once shutting down
// the only way is to stopped.
func canTransition(from, to State) bool {
	switch from {
	case StateStopped:
		return false
	case StateShuttingDown:
		return to == StateStopped
	default:
		return true
	}
}
