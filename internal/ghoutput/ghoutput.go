// Package ghoutput publishes run results as GitHub Actions outputs when the
// CLI itself runs inside a workflow job.
package ghoutput

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/conveyorci/conveyor/internal/store"
)

// FromRun builds the output map for a finished run.
func FromRun(run *store.RunRecord) map[string]string {
	if run == nil {
		return nil
	}
	out := map[string]string{
		"run-id":    run.ID,
		"run-state": string(run.State),
	}
	if run.Commit != "" {
		out["commit"] = run.Commit
	}
	return out
}

// Write appends key=value pairs to the GITHUB_OUTPUT file when available.
// Outside of GitHub Actions this is a no-op.
func Write(values map[string]string) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}
	if len(values) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := fmt.Fprintf(f, "%s=%s\n", key, sanitize(values[key])); err != nil {
			return err
		}
	}
	return nil
}

// sanitize keeps output values on a single line.
func sanitize(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.TrimSpace(v)
}
