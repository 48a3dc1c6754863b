package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentialsFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileProvider(t *testing.T) {
	t.Run("inline value", func(t *testing.T) {
		t.Parallel()

		path := writeCredentialsFile(t, t.TempDir(), `
credentials:
  - id: registry-login
    kind: usernamePassword
    username: deployer
    value: hunter2
`)
		p, err := NewFileProvider("local", path)
		require.NoError(t, err)

		cred, err := p.Get(context.Background(), "registry-login")
		require.NoError(t, err)
		assert.Equal(t, KindUsernamePassword, cred.Kind)
		assert.Equal(t, "deployer", cred.Username)

		secret, err := cred.SecretString()
		require.NoError(t, err)
		assert.Equal(t, "hunter2", secret)
	})

	t.Run("value from file resolved relative to credentials file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "id_rsa"), []byte("-----BEGIN KEY-----"), 0o600))
		path := writeCredentialsFile(t, dir, `
credentials:
  - id: deploy-key
    kind: ssh
    valueFile: id_rsa
`)
		p, err := NewFileProvider("local", path)
		require.NoError(t, err)

		cred, err := p.Get(context.Background(), "deploy-key")
		require.NoError(t, err)
		secret, err := cred.SecretString()
		require.NoError(t, err)
		assert.Equal(t, "-----BEGIN KEY-----", secret)
	})

	t.Run("value from environment variable", func(t *testing.T) {
		path := writeCredentialsFile(t, t.TempDir(), `
credentials:
  - id: api-token
    kind: token
    valueEnv: FILE_PROVIDER_TEST_TOKEN
`)
		t.Setenv("FILE_PROVIDER_TEST_TOKEN", "tok-abc")

		p, err := NewFileProvider("local", path)
		require.NoError(t, err)

		cred, err := p.Get(context.Background(), "api-token")
		require.NoError(t, err)
		secret, err := cred.SecretString()
		require.NoError(t, err)
		assert.Equal(t, "tok-abc", secret)
	})

	t.Run("unknown id is NotFoundError", func(t *testing.T) {
		t.Parallel()

		path := writeCredentialsFile(t, t.TempDir(), `
credentials:
  - id: api-token
    kind: token
    value: tok
`)
		p, err := NewFileProvider("local", path)
		require.NoError(t, err)

		_, err = p.Get(context.Background(), "missing")
		assert.True(t, IsNotFound(err))
	})

	t.Run("list preserves declaration order", func(t *testing.T) {
		t.Parallel()

		path := writeCredentialsFile(t, t.TempDir(), `
credentials:
  - id: zz-token
    kind: token
    value: a
  - id: aa-token
    kind: token
    value: b
`)
		p, err := NewFileProvider("local", path)
		require.NoError(t, err)

		metas, err := p.List(context.Background())
		require.NoError(t, err)
		require.Len(t, metas, 2)
		assert.Equal(t, "zz-token", metas[0].ID)
		assert.Equal(t, "aa-token", metas[1].ID)
		assert.Equal(t, "local", metas[0].Backend)
	})

	t.Run("rejects multiple secret sources", func(t *testing.T) {
		t.Parallel()

		path := writeCredentialsFile(t, t.TempDir(), `
credentials:
  - id: api-token
    kind: token
    value: tok
    valueEnv: ALSO_SET
`)
		_, err := NewFileProvider("local", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one of")
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		t.Parallel()

		path := writeCredentialsFile(t, t.TempDir(), `
credentials:
  - id: api-token
    kind: token
    value: a
  - id: api-token
    kind: token
    value: b
`)
		_, err := NewFileProvider("local", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate id")
	})
}
