package credential

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conveyorci/conveyor/internal/config"
)

// Factory creates a Provider from a backend declaration.
type Factory func(backend config.CredentialBackend) (Provider, error)

// Registry maps backend types to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in backends registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("file", NewFileProviderFactory)
	r.Register("aws.secretsmanager", NewSecretsManagerProviderFactory)
	r.Register("keyring", NewKeyringProviderFactory)
	return r
}

// Register adds or replaces the factory for a backend type.
func (r *Registry) Register(backendType string, factory Factory) {
	r.factories[backendType] = factory
}

// Build constructs a Store from the configured backend declarations,
// preserving declaration order for lookups.
func (r *Registry) Build(cfg config.CredentialsConfig, logger *slog.Logger) (*Store, error) {
	providers := make([]Provider, 0, len(cfg.Backends))
	for _, backend := range cfg.Backends {
		factory, ok := r.factories[backend.Type]
		if !ok {
			return nil, fmt.Errorf("credential backend %q: unknown type %q", backend.Name, backend.Type)
		}
		p, err := factory(backend)
		if err != nil {
			return nil, fmt.Errorf("credential backend %q: %w", backend.Name, err)
		}
		providers = append(providers, p)
	}
	return NewStore(providers, logger), nil
}

// Store resolves credentials across the configured backends in order.
type Store struct {
	providers []Provider
	logger    *slog.Logger
}

// NewStore builds a Store over the given providers.
func NewStore(providers []Provider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{providers: providers, logger: logger}
}

// Get resolves a credential id, consulting backends in declaration order.
// Duplicate ids resolve to the first declaring backend.
func (s *Store) Get(ctx context.Context, id string) (*Credential, error) {
	if id == "" {
		return nil, fmt.Errorf("credential id is empty")
	}
	for _, p := range s.providers {
		cred, err := p.Get(ctx, id)
		if err == nil {
			s.logger.Debug("credential resolved", "id", id, "kind", cred.Kind, "backend", p.Name())
			return cred, nil
		}
		if !IsNotFound(err) {
			return nil, fmt.Errorf("backend %q: lookup %q: %w", p.Name(), id, err)
		}
	}
	return nil, &NotFoundError{ID: id, Backend: "store"}
}

// List aggregates credential metadata from every backend.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	var out []Metadata
	for _, p := range s.providers {
		metas, err := p.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend %q: list: %w", p.Name(), err)
		}
		out = append(out, metas...)
	}
	return out, nil
}
