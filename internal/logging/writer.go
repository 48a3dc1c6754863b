package logging

import (
	"log/slog"
	"strings"
)

// Writer is an io.Writer implementation that forwards stage output to slog.
// Lines are redacted before they reach the logger.
type Writer struct {
	logger   *slog.Logger
	redactor *Redactor
	stage    string
}

// NewWriter constructs a Writer bound to the provided logger and redactor.
func NewWriter(logger *slog.Logger, redactor *Redactor, stage string) *Writer {
	return &Writer{logger: logger, redactor: redactor, stage: stage}
}

// Write logs the given bytes line by line at info level.
func (w *Writer) Write(p []byte) (int, error) {
	if w.logger == nil {
		return len(p), nil
	}
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.logger.Info("stage output", "stage", w.stage, "line", w.redactor.Redact(line))
	}
	return len(p), nil
}
