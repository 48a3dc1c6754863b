package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/conveyorci/conveyor/internal/config"
)

// SecretsManagerAPI defines the AWS Secrets Manager operations used by the
// backend. Kept as an interface so tests can inject a fake client.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// SecretsManagerProvider resolves credentials from AWS Secrets Manager.
// Secrets either hold a plain string (treated as a token) or a JSON document
// {"kind": "...", "username": "...", "secret": "..."}.
type SecretsManagerProvider struct {
	name   string
	client SecretsManagerAPI
	prefix string
}

// SecretsManagerOption customizes provider construction.
type SecretsManagerOption func(*SecretsManagerProvider)

// WithSecretsManagerClient injects a custom client (for testing).
func WithSecretsManagerClient(client SecretsManagerAPI) SecretsManagerOption {
	return func(p *SecretsManagerProvider) { p.client = client }
}

// NewSecretsManagerProviderFactory builds the backend from its declaration.
func NewSecretsManagerProviderFactory(backend config.CredentialBackend) (Provider, error) {
	return NewSecretsManagerProvider(backend.Name, backend.Region, backend.Prefix)
}

// NewSecretsManagerProvider constructs the backend, loading the default AWS
// config chain unless a client is injected.
func NewSecretsManagerProvider(name, region, prefix string, opts ...SecretsManagerOption) (*SecretsManagerProvider, error) {
	p := &SecretsManagerProvider{name: name, prefix: prefix}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		var cfgOpts []func(*awsconfig.LoadOptions) error
		if region != "" {
			cfgOpts = append(cfgOpts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), cfgOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		p.client = secretsmanager.NewFromConfig(cfg)
	}

	return p, nil
}

// Name returns the backend instance name.
func (p *SecretsManagerProvider) Name() string { return p.name }

// Get fetches and decodes the secret for the given credential id.
func (p *SecretsManagerProvider) Get(ctx context.Context, id string) (*Credential, error) {
	secretID := p.prefix + id
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretID,
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, &NotFoundError{ID: id, Backend: p.name}
		}
		return nil, fmt.Errorf("get secret %q: %w", secretID, err)
	}

	var payload []byte
	switch {
	case out.SecretString != nil:
		payload = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		payload = out.SecretBinary
	default:
		return nil, fmt.Errorf("secret %q has no value", secretID)
	}

	return decodeSecretPayload(id, payload)
}

// List enumerates secrets under the configured prefix as token metadata.
// Kind is unknown without fetching values, so entries report KindToken.
func (p *SecretsManagerProvider) List(ctx context.Context) ([]Metadata, error) {
	var out []Metadata
	var nextToken *string
	for {
		resp, err := p.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list secrets: %w", err)
		}
		for _, entry := range resp.SecretList {
			if entry.Name == nil {
				continue
			}
			name := *entry.Name
			if p.prefix != "" && !strings.HasPrefix(name, p.prefix) {
				continue
			}
			out = append(out, Metadata{
				ID:      strings.TrimPrefix(name, p.prefix),
				Kind:    KindToken,
				Backend: p.name,
			})
		}
		if resp.NextToken == nil {
			break
		}
		nextToken = resp.NextToken
	}
	return out, nil
}

// secretDocument is the JSON shape for structured secrets.
type secretDocument struct {
	Kind     Kind   `json:"kind"`
	Username string `json:"username,omitempty"`
	Secret   string `json:"secret"`
}

func decodeSecretPayload(id string, payload []byte) (*Credential, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var doc secretDocument
		if err := json.Unmarshal([]byte(trimmed), &doc); err == nil && doc.Kind != "" {
			return New(id, doc.Kind, doc.Username, []byte(doc.Secret))
		}
	}
	return New(id, KindToken, "", payload)
}
