package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/conveyorci/conveyor/internal/config"
)

// defaultKeyringService is used when the backend declaration omits a service name.
const defaultKeyringService = "conveyor"

// keyringGetter matches keyring.Get; injectable for testing.
type keyringGetter func(service, user string) (string, error)

// KeyringProvider resolves credentials from the OS keychain. Entries use the
// same payload convention as the Secrets Manager backend: plain strings are
// tokens, JSON documents carry kind and username.
type KeyringProvider struct {
	name    string
	service string
	get     keyringGetter
}

// NewKeyringProviderFactory builds the backend from its declaration.
func NewKeyringProviderFactory(backend config.CredentialBackend) (Provider, error) {
	service := backend.Service
	if service == "" {
		service = defaultKeyringService
	}
	return &KeyringProvider{name: backend.Name, service: service, get: keyring.Get}, nil
}

// Name returns the backend instance name.
func (p *KeyringProvider) Name() string { return p.name }

// Get looks the id up in the OS keychain under the configured service.
func (p *KeyringProvider) Get(_ context.Context, id string) (*Credential, error) {
	value, err := p.get(p.service, id)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, &NotFoundError{ID: id, Backend: p.name}
		}
		return nil, fmt.Errorf("keyring lookup %q: %w", id, err)
	}
	return decodeSecretPayload(id, []byte(value))
}

// List returns an empty list: OS keychains cannot enumerate entries portably.
func (p *KeyringProvider) List(_ context.Context) ([]Metadata, error) {
	return nil, nil
}
