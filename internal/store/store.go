// Package store persists pipeline runs, stage results and run logs.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/conveyorci/conveyor/internal/executor"
)

// RunState is the lifecycle state of a pipeline run.
type RunState string

const (
	// RunPending means the run is queued but not started.
	RunPending RunState = "Pending"
	// RunRunning means stages are executing.
	RunRunning RunState = "Running"
	// RunSucceeded means every non-skipped stage succeeded.
	RunSucceeded RunState = "Succeeded"
	// RunFailed means a stage failed and the run short-circuited.
	RunFailed RunState = "Failed"
	// RunTimedOut means a stage exceeded its timeout.
	RunTimedOut RunState = "TimedOut"
)

// RunRecord is one pipeline run.
type RunRecord struct {
	ID         string            `json:"id"`
	Project    string            `json:"project"`
	Trigger    string            `json:"trigger"`
	Parameters map[string]string `json:"parameters,omitempty"`
	State      RunState          `json:"state"`
	Ref        string            `json:"ref,omitempty"`
	Commit     string            `json:"commit,omitempty"`
	Sender     string            `json:"sender,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	StartedAt  *time.Time        `json:"startedAt,omitempty"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}

// StageRecord is one persisted stage result within a run.
type StageRecord struct {
	RunID    string `json:"runId"`
	Position int    `json:"position"`
	executor.Result
}

// LogEntry is one line of redacted run output.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Line      string    `json:"line"`
}

// NotFoundError indicates that a run id does not exist in the store.
type NotFoundError struct {
	// ID is the run id that was requested.
	ID string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "run not found"
	}
	return fmt.Sprintf("run %q not found", e.ID)
}

// IsNotFound reports whether err indicates a missing run.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
