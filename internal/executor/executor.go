// Package executor runs individual pipeline stage commands with environment
// injection, timeouts and redacted output capture.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/conveyorci/conveyor/internal/env"
	"github.com/conveyorci/conveyor/internal/logging"
)

// DefaultTimeout bounds stages that declare no timeout of their own.
const DefaultTimeout = 30 * time.Minute

// outputTailLimit caps how much captured output a Result retains.
const outputTailLimit = 64 * 1024

// Status is the terminal state of one stage execution.
type Status string

const (
	// StatusSucceeded means the command exited zero.
	StatusSucceeded Status = "Succeeded"
	// StatusFailed means the command exited non-zero or could not start.
	StatusFailed Status = "Failed"
	// StatusTimedOut means the stage exceeded its timeout.
	StatusTimedOut Status = "TimedOut"
	// StatusSkipped means the stage condition evaluated false.
	StatusSkipped Status = "Skipped"
)

// Spec describes one stage invocation.
type Spec struct {
	// Stage is the stage name, used in logs and results.
	Stage string
	// Command is run via sh -c.
	Command string
	// Workdir is the working directory; empty means the process default.
	Workdir string
	// Env is the complete environment for the command.
	Env env.Vars
	// Timeout bounds execution; zero means DefaultTimeout.
	Timeout time.Duration
}

// Result records the outcome of one stage execution. Output is already
// redacted when the executor was given a redactor.
type Result struct {
	Stage     string        `json:"stage"`
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exitCode"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Executor runs stage commands.
type Executor struct {
	logger   *slog.Logger
	redactor *logging.Redactor
}

// New constructs an Executor. A nil redactor disables redaction.
func New(logger *slog.Logger, redactor *logging.Redactor) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, redactor: redactor}
}

// Run executes the stage command and returns its result. The returned error
// is non-nil whenever the stage did not succeed, so callers can short-circuit.
func (e *Executor) Run(ctx context.Context, spec Spec) (Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", spec.Command)
	cmd.Dir = spec.Workdir
	cmd.Env = spec.Env.Environ()

	var captured bytes.Buffer
	sink := io.MultiWriter(&captured, logging.NewWriter(e.logger, e.redactor, spec.Stage))
	cmd.Stdout = sink
	cmd.Stderr = sink

	result := Result{Stage: spec.Stage, StartedAt: time.Now().UTC()}
	e.logger.Info("stage started", "stage", spec.Stage, "timeout", timeout)

	err := cmd.Run()
	result.Duration = time.Since(result.StartedAt)
	result.Output = e.redact(tail(captured.String()))

	switch {
	case err == nil:
		result.Status = StatusSucceeded
		e.logger.Info("stage succeeded", "stage", spec.Stage, "duration", result.Duration)
		return result, nil

	case runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusTimedOut
		result.ExitCode = -1
		wrapped := fmt.Errorf("stage %q timed out after %s: %w", spec.Stage, timeout, context.DeadlineExceeded)
		result.Error = wrapped.Error()
		e.logger.Error("stage timed out", "stage", spec.Stage, "timeout", timeout)
		return result, wrapped

	default:
		result.Status = StatusFailed
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		wrapped := fmt.Errorf("stage %q failed (exit %d): %w", spec.Stage, result.ExitCode, errRedacted(e.redact(err.Error())))
		result.Error = wrapped.Error()
		e.logger.Error("stage failed", "stage", spec.Stage, "exit", result.ExitCode)
		return result, wrapped
	}
}

func (e *Executor) redact(s string) string {
	if e.redactor == nil {
		return s
	}
	return e.redactor.Redact(s)
}

// errRedacted wraps an already-redacted message as an error value.
type errRedacted string

func (e errRedacted) Error() string { return string(e) }

// tail keeps only the last outputTailLimit bytes of s.
func tail(s string) string {
	if len(s) <= outputTailLimit {
		return s
	}
	return s[len(s)-outputTailLimit:]
}
