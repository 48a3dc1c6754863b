package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/internal/env"
	"github.com/conveyorci/conveyor/internal/logging"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("success captures output", func(t *testing.T) {
		t.Parallel()

		e := New(discardLogger(), nil)
		result, err := e.Run(context.Background(), Spec{
			Stage:   "build",
			Command: "echo building",
			Env:     env.FromOS(),
		})
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, result.Status)
		assert.Equal(t, 0, result.ExitCode)
		assert.Contains(t, result.Output, "building")
		assert.False(t, result.StartedAt.IsZero())
	})

	t.Run("environment reaches the command", func(t *testing.T) {
		t.Parallel()

		e := New(discardLogger(), nil)
		result, err := e.Run(context.Background(), Spec{
			Stage:   "env-check",
			Command: `echo "tag=$IMAGE_TAG"`,
			Env:     env.Merge(env.FromOS(), env.Vars{"IMAGE_TAG": "v42"}),
		})
		require.NoError(t, err)
		assert.Contains(t, result.Output, "tag=v42")
	})

	t.Run("workdir is honored", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644))

		e := New(discardLogger(), nil)
		result, err := e.Run(context.Background(), Spec{
			Stage:   "ls",
			Command: "ls",
			Workdir: dir,
			Env:     env.FromOS(),
		})
		require.NoError(t, err)
		assert.Contains(t, result.Output, "marker")
	})

	t.Run("non-zero exit fails with exit code", func(t *testing.T) {
		t.Parallel()

		e := New(discardLogger(), nil)
		result, err := e.Run(context.Background(), Spec{
			Stage:   "flaky",
			Command: "exit 3",
			Env:     env.FromOS(),
		})
		require.Error(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, 3, result.ExitCode)
		assert.Contains(t, result.Error, "flaky")
	})

	t.Run("timeout marks the stage timed out", func(t *testing.T) {
		t.Parallel()

		e := New(discardLogger(), nil)
		result, err := e.Run(context.Background(), Spec{
			Stage:   "slow",
			Command: "sleep 5",
			Env:     env.FromOS(),
			Timeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Equal(t, StatusTimedOut, result.Status)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("secrets are redacted from captured output", func(t *testing.T) {
		t.Parallel()

		e := New(discardLogger(), logging.NewRedactor([]logging.Secret{"hunter2"}))
		result, err := e.Run(context.Background(), Spec{
			Stage:   "login",
			Command: "echo logging in with hunter2",
			Env:     env.FromOS(),
		})
		require.NoError(t, err)
		assert.Contains(t, result.Output, "[REDACTED]")
		assert.NotContains(t, result.Output, "hunter2")
	})

	t.Run("command not found fails without exit code", func(t *testing.T) {
		t.Parallel()

		e := New(discardLogger(), nil)
		result, err := e.Run(context.Background(), Spec{
			Stage:   "ghost",
			Command: "definitely-not-a-command-xyz",
			Env:     env.FromOS(),
		})
		require.Error(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.NotEqual(t, 0, result.ExitCode)
	})
}

func TestTail(t *testing.T) {
	t.Parallel()

	short := "small output"
	assert.Equal(t, short, tail(short))

	long := make([]byte, outputTailLimit+10)
	for i := range long {
		long[i] = 'x'
	}
	long[len(long)-1] = 'z'
	got := tail(string(long))
	assert.Len(t, got, outputTailLimit)
	assert.Equal(t, byte('z'), got[len(got)-1])
}
