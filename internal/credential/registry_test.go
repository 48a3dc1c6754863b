package credential

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/internal/config"
)

// stubProvider returns fixed credentials, or a fixed error.
type stubProvider struct {
	name  string
	creds map[string]*Credential
	err   error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Get(_ context.Context, id string) (*Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	cred, ok := s.creds[id]
	if !ok {
		return nil, &NotFoundError{ID: id, Backend: s.name}
	}
	return cred, nil
}

func (s *stubProvider) List(_ context.Context) ([]Metadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Metadata, 0, len(s.creds))
	for id, cred := range s.creds {
		out = append(out, Metadata{ID: id, Kind: cred.Kind, Backend: s.name})
	}
	return out, nil
}

func mustCredential(t *testing.T, id string, kind Kind, username, secret string) *Credential {
	t.Helper()
	cred, err := New(id, kind, username, []byte(secret))
	require.NoError(t, err)
	return cred
}

func TestStoreGet(t *testing.T) {
	t.Parallel()

	t.Run("first declaring backend wins", func(t *testing.T) {
		t.Parallel()

		first := &stubProvider{name: "first", creds: map[string]*Credential{
			"api-token": mustCredential(t, "api-token", KindToken, "", "from-first"),
		}}
		second := &stubProvider{name: "second", creds: map[string]*Credential{
			"api-token": mustCredential(t, "api-token", KindToken, "", "from-second"),
		}}
		store := NewStore([]Provider{first, second}, slog.Default())

		cred, err := store.Get(context.Background(), "api-token")
		require.NoError(t, err)
		secret, err := cred.SecretString()
		require.NoError(t, err)
		assert.Equal(t, "from-first", secret)
	})

	t.Run("falls through to later backends", func(t *testing.T) {
		t.Parallel()

		first := &stubProvider{name: "first", creds: map[string]*Credential{}}
		second := &stubProvider{name: "second", creds: map[string]*Credential{
			"deploy-key": mustCredential(t, "deploy-key", KindSSH, "", "key-material"),
		}}
		store := NewStore([]Provider{first, second}, slog.Default())

		cred, err := store.Get(context.Background(), "deploy-key")
		require.NoError(t, err)
		assert.Equal(t, KindSSH, cred.Kind)
	})

	t.Run("exhausted backends yield NotFoundError", func(t *testing.T) {
		t.Parallel()

		store := NewStore([]Provider{&stubProvider{name: "only", creds: map[string]*Credential{}}}, slog.Default())
		_, err := store.Get(context.Background(), "absent")
		assert.True(t, IsNotFound(err))
	})

	t.Run("backend failures do not fall through", func(t *testing.T) {
		t.Parallel()

		broken := &stubProvider{name: "broken", err: errors.New("connection refused")}
		fallback := &stubProvider{name: "fallback", creds: map[string]*Credential{
			"api-token": mustCredential(t, "api-token", KindToken, "", "tok"),
		}}
		store := NewStore([]Provider{broken, fallback}, slog.Default())

		_, err := store.Get(context.Background(), "api-token")
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
		assert.Contains(t, err.Error(), "broken")
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		t.Parallel()

		store := NewStore(nil, slog.Default())
		_, err := store.Get(context.Background(), "")
		require.Error(t, err)
	})
}

func TestRegistryBuild(t *testing.T) {
	t.Parallel()

	t.Run("unknown backend type", func(t *testing.T) {
		t.Parallel()

		_, err := NewRegistry().Build(config.CredentialsConfig{
			Backends: []config.CredentialBackend{{Name: "vault", Type: "vault"}},
		}, slog.Default())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown type")
	})

	t.Run("file backend without path fails", func(t *testing.T) {
		t.Parallel()

		_, err := NewRegistry().Build(config.CredentialsConfig{
			Backends: []config.CredentialBackend{{Name: "local", Type: "file"}},
		}, slog.Default())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "path")
	})
}
