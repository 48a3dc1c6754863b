package credential

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSecretsManager serves canned secrets keyed by full secret id and
// paginates ListSecrets one entry per page.
type fakeSecretsManager struct {
	secrets map[string]string
	names   []string
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	value, ok := f.secrets[aws.ToString(params.SecretId)]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func (f *fakeSecretsManager) ListSecrets(_ context.Context, params *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	idx := 0
	if params.NextToken != nil {
		idx = int((*params.NextToken)[0] - '0')
	}
	out := &secretsmanager.ListSecretsOutput{
		SecretList: []smtypes.SecretListEntry{{Name: aws.String(f.names[idx])}},
	}
	if idx+1 < len(f.names) {
		next := string(rune('0' + idx + 1))
		out.NextToken = aws.String(next)
	}
	return out, nil
}

func TestSecretsManagerProvider(t *testing.T) {
	t.Parallel()

	newProvider := func(t *testing.T, fake *fakeSecretsManager, prefix string) *SecretsManagerProvider {
		t.Helper()
		p, err := NewSecretsManagerProvider("aws", "us-east-1", prefix, WithSecretsManagerClient(fake))
		require.NoError(t, err)
		return p
	}

	t.Run("plain string is a token", func(t *testing.T) {
		t.Parallel()

		fake := &fakeSecretsManager{secrets: map[string]string{"conveyor/api-token": "tok-xyz"}}
		p := newProvider(t, fake, "conveyor/")

		cred, err := p.Get(context.Background(), "api-token")
		require.NoError(t, err)
		assert.Equal(t, KindToken, cred.Kind)

		secret, err := cred.SecretString()
		require.NoError(t, err)
		assert.Equal(t, "tok-xyz", secret)
	})

	t.Run("json document carries kind and username", func(t *testing.T) {
		t.Parallel()

		fake := &fakeSecretsManager{secrets: map[string]string{
			"registry-login": `{"kind":"usernamePassword","username":"deployer","secret":"hunter2"}`,
		}}
		p := newProvider(t, fake, "")

		cred, err := p.Get(context.Background(), "registry-login")
		require.NoError(t, err)
		assert.Equal(t, KindUsernamePassword, cred.Kind)
		assert.Equal(t, "deployer", cred.Username)
	})

	t.Run("missing secret maps to NotFoundError", func(t *testing.T) {
		t.Parallel()

		fake := &fakeSecretsManager{secrets: map[string]string{}}
		p := newProvider(t, fake, "")

		_, err := p.Get(context.Background(), "absent")
		assert.True(t, IsNotFound(err))
	})

	t.Run("list paginates and strips the prefix", func(t *testing.T) {
		t.Parallel()

		fake := &fakeSecretsManager{names: []string{"conveyor/deploy-key", "other/ignored", "conveyor/api-token"}}
		p := newProvider(t, fake, "conveyor/")

		metas, err := p.List(context.Background())
		require.NoError(t, err)
		require.Len(t, metas, 2)
		assert.Equal(t, "deploy-key", metas[0].ID)
		assert.Equal(t, "api-token", metas[1].ID)
	})
}

func TestDecodeSecretPayload(t *testing.T) {
	t.Parallel()

	t.Run("json without kind falls back to token", func(t *testing.T) {
		t.Parallel()
		cred, err := decodeSecretPayload("raw", []byte(`{"user":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, KindToken, cred.Kind)
	})

	t.Run("ssh kind from json", func(t *testing.T) {
		t.Parallel()
		cred, err := decodeSecretPayload("deploy-key", []byte(`{"kind":"ssh","secret":"-----BEGIN KEY-----"}`))
		require.NoError(t, err)
		assert.Equal(t, KindSSH, cred.Kind)
	})
}
