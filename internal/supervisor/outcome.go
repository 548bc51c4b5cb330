package supervisor

import (
	"errors"
	"time"
)

// ErrTerminationExhausted is set on an outcome whose process survived the
// whole escalation sequence.
var ErrTerminationExhausted = errors.New("process did not exit after forced kill")

// Kind classifies how a run ended.
type Kind int

const (
	// Completed means the process exited on its own. The exit code may be
	// non-zero; that is not an error.
	Completed Kind = iota

	// Interrupted means the run was cancelled or hit its hard deadline.
	// Partial output may exist.
	Interrupted

	// Failed means the process could not be spawned or its output could
	// not be read.
	Failed
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Interruption reasons.
const (
	ReasonCancelled = "cancelled"
	ReasonDeadline  = "deadline"
)

// Outcome is the result of one supervised run.
type Outcome struct {
	Kind Kind

	// ExitCode is the process exit code; 128+N when killed by signal N,
	// -1 when the process never exited or never started.
	ExitCode int

	// Err is set for Failed and for leaked processes.
	Err error

	// Reason says why an Interrupted run was stopped.
	Reason string

	// Leaked is true when the process did not die after SIGKILL.
	Leaked bool

	// Forced is true when SIGKILL had to be sent.
	Forced bool

	PID   int
	Start time.Time
	End   time.Time

	// Lines is the number of output lines written to the sink.
	Lines int64
}

// Duration returns the wall-clock length of the run.
func (o Outcome) Duration() time.Duration {
	if o.End.IsZero() {
		return 0
	}
	return o.End.Sub(o.Start)
}

// Category buckets the outcome for metrics: "success", "nonzero",
// "interrupted", "failed" or "leaked".
func (o Outcome) Category() string {
	switch {
	case o.Leaked:
		return "leaked"
	case o.Kind == Failed:
		return "failed"
	case o.Kind == Interrupted:
		return "interrupted"
	case o.ExitCode == 0:
		return "success"
	default:
		return "nonzero"
	}
}
