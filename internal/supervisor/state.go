// Package supervisor runs one external tool process under a time budget and
// terminates it with escalating force when the run is cancelled.
package supervisor

// State represents where the supervisor is in a single run.
type State int

const (
	// StateIdle means no process is supervised.
	StateIdle State = iota

	// StateStarting indicates the process is being spawned.
	StateStarting

	// StateRunning indicates the process is running and its output is streamed.
	StateRunning

	// StateTerminating indicates stop signals are being delivered.
	StateTerminating
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// IsActive returns true while a process exists or is being created.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateTerminating
}
