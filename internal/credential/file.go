package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conveyorci/conveyor/internal/config"
)

// fileEntry is one credential declaration in a credentials file. The secret
// itself is referenced, not stored: exactly one of value, valueEnv or
// valueFile must be set.
type fileEntry struct {
	ID        string `yaml:"id"`
	Kind      Kind   `yaml:"kind"`
	Username  string `yaml:"username,omitempty"`
	Value     string `yaml:"value,omitempty"`
	ValueEnv  string `yaml:"valueEnv,omitempty"`
	ValueFile string `yaml:"valueFile,omitempty"`
}

type credentialsFile struct {
	Credentials []fileEntry `yaml:"credentials"`
}

// FileProvider serves credentials declared in a YAML file.
type FileProvider struct {
	name    string
	path    string
	entries map[string]fileEntry
	order   []string
}

// NewFileProviderFactory builds a FileProvider from a backend declaration.
func NewFileProviderFactory(backend config.CredentialBackend) (Provider, error) {
	if strings.TrimSpace(backend.Path) == "" {
		return nil, fmt.Errorf("file backend requires a path")
	}
	return NewFileProvider(backend.Name, backend.Path)
}

// NewFileProvider loads and indexes the credentials file at path.
func NewFileProvider(name, path string) (*FileProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var doc credentialsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse credentials file %q: %w", path, err)
	}

	entries := make(map[string]fileEntry, len(doc.Credentials))
	order := make([]string, 0, len(doc.Credentials))
	for i, entry := range doc.Credentials {
		if strings.TrimSpace(entry.ID) == "" {
			return nil, fmt.Errorf("credentials file %q: entry %d has no id", path, i)
		}
		if _, dup := entries[entry.ID]; dup {
			return nil, fmt.Errorf("credentials file %q: duplicate id %q", path, entry.ID)
		}
		if countSet(entry.Value, entry.ValueEnv, entry.ValueFile) != 1 {
			return nil, fmt.Errorf("credentials file %q: entry %q must set exactly one of value, valueEnv, valueFile", path, entry.ID)
		}
		entries[entry.ID] = entry
		order = append(order, entry.ID)
	}

	return &FileProvider{name: name, path: path, entries: entries, order: order}, nil
}

// Name returns the backend instance name.
func (p *FileProvider) Name() string { return p.name }

// Get resolves the entry's secret reference and seals it into a Credential.
func (p *FileProvider) Get(_ context.Context, id string) (*Credential, error) {
	entry, ok := p.entries[id]
	if !ok {
		return nil, &NotFoundError{ID: id, Backend: p.name}
	}

	secret, err := p.resolveSecret(entry)
	if err != nil {
		return nil, err
	}
	return New(entry.ID, entry.Kind, entry.Username, secret)
}

// List returns metadata for every declared credential, in file order.
func (p *FileProvider) List(_ context.Context) ([]Metadata, error) {
	out := make([]Metadata, 0, len(p.order))
	for _, id := range p.order {
		entry := p.entries[id]
		out = append(out, Metadata{ID: entry.ID, Kind: entry.Kind, Backend: p.name})
	}
	return out, nil
}

func (p *FileProvider) resolveSecret(entry fileEntry) ([]byte, error) {
	switch {
	case entry.Value != "":
		return []byte(entry.Value), nil
	case entry.ValueEnv != "":
		v, ok := os.LookupEnv(entry.ValueEnv)
		if !ok || v == "" {
			return nil, fmt.Errorf("credential %q: environment variable %q is not set", entry.ID, entry.ValueEnv)
		}
		return []byte(v), nil
	default:
		path := entry.ValueFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(p.path), path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("credential %q: read secret file: %w", entry.ID, err)
		}
		return raw, nil
	}
}

func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}
