package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretNeverPrintsValue(t *testing.T) {
	t.Parallel()

	s := Secret("hunter2-token")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2-token", s.Reveal())
}

func TestSecretLogAttr(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("credential loaded", "value", Secret("hunter2-token"))

	assert.Contains(t, buf.String(), "[REDACTED]")
	assert.NotContains(t, buf.String(), "hunter2-token")
}

func TestRedactor(t *testing.T) {
	t.Parallel()

	t.Run("replaces every occurrence", func(t *testing.T) {
		t.Parallel()
		r := NewRedactor([]Secret{"s3cr3t", "tok-123"})
		got := r.Redact("login s3cr3t, token tok-123, again s3cr3t")
		assert.Equal(t, "login [REDACTED], token [REDACTED], again [REDACTED]", got)
	})

	t.Run("short values are skipped", func(t *testing.T) {
		t.Parallel()
		r := NewRedactor([]Secret{"a", ""})
		assert.Equal(t, "a plain line", r.Redact("a plain line"))
	})

	t.Run("nil redactor passes text through", func(t *testing.T) {
		t.Parallel()
		var r *Redactor
		assert.Equal(t, "untouched", r.Redact("untouched"))
	})
}

func TestWriterRedactsLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	w := NewWriter(logger, NewRedactor([]Secret{"s3cr3t"}), "deploy")

	n, err := w.Write([]byte("connecting with s3cr3t\ndone\n"))
	require.NoError(t, err)
	assert.Equal(t, len("connecting with s3cr3t\ndone\n"), n)

	out := buf.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "s3cr3t")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "deploy")
}
