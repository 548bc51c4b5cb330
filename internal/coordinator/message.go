// Package coordinator implements the worker side of the channel to the
// coordinating server: connecting with unbounded retry, receiving jobs and
// sending results back.
package coordinator

import (
	"time"

	"github.com/randomizedcoder/tga-worker/internal/job"
)

// MessageType discriminates envelopes on the wire.
type MessageType string

const (
	// MsgHello is sent once by the worker after connecting.
	MsgHello MessageType = "hello"

	// MsgJob carries a job from the coordinator.
	MsgJob MessageType = "job"

	// MsgResult carries a generated test suite back.
	MsgResult MessageType = "result"

	// MsgFailure reports that a job produced no usable suite.
	MsgFailure MessageType = "failure"
)

// Envelope is the unit exchanged in both directions.
type Envelope struct {
	Type     MessageType    `json:"type"`
	WorkerID string         `json:"workerId,omitempty"`
	Tool     string         `json:"tool,omitempty"`
	Job      *JobMessage    `json:"job,omitempty"`
	Result   *ResultMessage `json:"result,omitempty"`
	Failure  *FailureReport `json:"failure,omitempty"`
}

// JobMessage is the wire form of job.Job. The time budget is in seconds.
type JobMessage struct {
	ID              string   `json:"id,omitempty"`
	Root            string   `json:"root"`
	Target          string   `json:"target"`
	Classpath       []string `json:"classpath"`
	TimeBudget      int64    `json:"timeBudget"`
	OutputDirectory string   `json:"outputDirectory"`
}

// ToJob converts the message to a job.
func (m *JobMessage) ToJob() job.Job {
	cp := make([]string, len(m.Classpath))
	copy(cp, m.Classpath)
	return job.Job{
		ID:              m.ID,
		Root:            m.Root,
		Target:          m.Target,
		Classpath:       cp,
		TimeBudget:      time.Duration(m.TimeBudget) * time.Second,
		OutputDirectory: m.OutputDirectory,
	}
}

// NewJobMessage is the inverse of ToJob. Budgets are rounded down to whole
// seconds.
func NewJobMessage(j job.Job) *JobMessage {
	return &JobMessage{
		ID:              j.ID,
		Root:            j.Root,
		Target:          j.Target,
		Classpath:       j.CloneClasspath(),
		TimeBudget:      int64(j.TimeBudget / time.Second),
		OutputDirectory: j.OutputDirectory,
	}
}

// ResultMessage is the wire form of a successful job.
type ResultMessage struct {
	JobID          string           `json:"jobId"`
	RootDirectory  string           `json:"rootDirectory"`
	TestNames      []string         `json:"testNames"`
	Resources      []string         `json:"resources"`
	Dependencies   []job.Dependency `json:"dependencies"`
	GenerationTime int64            `json:"generationTimeMs"`
}

// NewResultMessage builds the wire result for suite.
func NewResultMessage(jobID string, suite *job.TestSuite, elapsed time.Duration) *ResultMessage {
	msg := &ResultMessage{
		JobID:          jobID,
		TestNames:      []string{},
		Resources:      []string{},
		Dependencies:   []job.Dependency{},
		GenerationTime: elapsed.Milliseconds(),
	}
	if suite != nil {
		msg.RootDirectory = suite.RootDirectory
		msg.TestNames = append(msg.TestNames, suite.TestNames...)
		msg.Resources = append(msg.Resources, suite.Resources...)
		msg.Dependencies = append(msg.Dependencies, suite.SortedDependencies()...)
	}
	return msg
}

// FailureReport explains why a job produced no suite.
type FailureReport struct {
	JobID string `json:"jobId"`

	// Error is the human-readable cause.
	Error string `json:"error"`

	// Outcome is the supervisor outcome kind, empty when the tool never ran.
	Outcome string `json:"outcome,omitempty"`

	ExitCode int `json:"exitCode"`

	// LogTail holds the last lines of the run log.
	LogTail []string `json:"logTail,omitempty"`

	GenerationTime int64 `json:"generationTimeMs"`
}
