// Package job defines the unit of work a worker receives from the coordinator
// and the test suite it hands back.
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job is one request to generate tests for a single target.
// A Job is immutable once dispatched to a tool.
type Job struct {
	// ID correlates log lines and results. Assigned by the controller when
	// the coordinator does not send one.
	ID string

	// Root is the benchmark project root.
	Root string

	// Target identifies the unit under test (a fully qualified class name).
	Target string

	// Classpath is the ordered list of filesystem roots needed to load Target.
	Classpath []string

	// TimeBudget is the generation budget forwarded to the tool.
	TimeBudget time.Duration

	// OutputDirectory is exclusively owned by the tool processing this job
	// until its report has been produced.
	OutputDirectory string
}

// Validate checks that the job carries everything a tool needs.
func (j Job) Validate() error {
	var errs []error
	if strings.TrimSpace(j.Target) == "" {
		errs = append(errs, errors.New("target is required"))
	}
	if strings.TrimSpace(j.OutputDirectory) == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if j.TimeBudget <= 0 {
		errs = append(errs, fmt.Errorf("time budget must be positive (got %s)", j.TimeBudget))
	}
	return errors.Join(errs...)
}

// CloneClasspath returns a private copy of the job classpath. Tools mutate
// their copy, never the job's.
func (j Job) CloneClasspath() []string {
	if len(j.Classpath) == 0 {
		return nil
	}
	cp := make([]string, len(j.Classpath))
	copy(cp, j.Classpath)
	return cp
}

// ShortID returns the first eight characters of the job ID for log output.
func (j Job) ShortID() string {
	if len(j.ID) <= 8 {
		return j.ID
	}
	return j.ID[:8]
}
